package sponsor

import (
	"math/big"
	"strings"
	"time"

	"zapspay/crypto"
	"zapspay/ledger"
)

const (
	// DefaultBaseFee is the inclusion fee charged per envelope before
	// resource costs are added.
	DefaultBaseFee = 100

	// DefaultValidityWindow bounds how long a built envelope stays valid.
	DefaultValidityWindow = 300 * time.Second
)

// BuilderConfig wires a Builder. Registry is the payment registry contract
// merchant payments are routed through; leave it zero only if the relay
// never builds merchant payments.
type BuilderConfig struct {
	Network        ledger.Network
	Registry       crypto.ContractID
	BaseFee        uint64
	ValidityWindow time.Duration
	Now            func() time.Time
}

// Builder constructs unsigned envelopes with a placeholder sequence number.
// The real sequence number is chosen later, when the fee payer becomes the
// envelope source, so the builder never needs the user's account state.
type Builder struct {
	network  ledger.Network
	registry crypto.ContractID
	baseFee  uint64
	window   time.Duration
	now      func() time.Time
}

func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.BaseFee == 0 {
		cfg.BaseFee = DefaultBaseFee
	}
	if cfg.ValidityWindow <= 0 {
		cfg.ValidityWindow = DefaultValidityWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Builder{
		network:  cfg.Network,
		registry: cfg.Registry,
		baseFee:  cfg.BaseFee,
		window:   cfg.ValidityWindow,
		now:      cfg.Now,
	}
}

// BuildPayment builds an unsigned envelope that pays a merchant through the
// registry contract. The payer authorizes the movement at operation level;
// the envelope-level source is replaced during sponsorship.
func (b *Builder) BuildPayment(payer crypto.Address, merchantID string, asset ledger.Asset, amount *big.Int, memo string) (*ledger.Envelope, error) {
	if b.registry.IsZero() {
		return nil, &ConfigurationError{Msg: "payment registry contract not configured"}
	}
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return nil, &ledger.ValidationError{Msg: "merchant id is required"}
	}
	if err := ledger.ValidateAmount(amount); err != nil {
		return nil, err
	}
	token := asset.Contract(b.network.ID())
	args, err := ledger.EncodeArgs(payer, merchantID, token, new(big.Int).Set(amount))
	if err != nil {
		return nil, err
	}
	return b.build(payer, &ledger.Operation{Invoke: &ledger.InvokeContractOp{
		Source:   payer,
		Contract: b.registry,
		Function: "pay",
		Args:     args,
	}}, memo)
}

// BuildTransfer builds an unsigned envelope moving value directly between
// two user addresses via the asset's token contract.
func (b *Builder) BuildTransfer(from, to crypto.Address, asset ledger.Asset, amount *big.Int, memo string) (*ledger.Envelope, error) {
	if to.IsZero() {
		return nil, &ledger.ValidationError{Msg: "recipient address is required"}
	}
	if err := ledger.ValidateAmount(amount); err != nil {
		return nil, err
	}
	args, err := ledger.EncodeArgs(from, to, new(big.Int).Set(amount))
	if err != nil {
		return nil, err
	}
	return b.build(from, &ledger.Operation{Invoke: &ledger.InvokeContractOp{
		Source:   from,
		Contract: asset.Contract(b.network.ID()),
		Function: "transfer",
		Args:     args,
	}}, memo)
}

// BuildInvocation builds an unsigned envelope around an arbitrary contract
// call. Arguments are serialized with the canonical encoding.
func (b *Builder) BuildInvocation(source crypto.Address, contract crypto.ContractID, function string, memo string, args ...any) (*ledger.Envelope, error) {
	if contract.IsZero() {
		return nil, &ConfigurationError{Msg: "invocation target contract not configured"}
	}
	function = strings.TrimSpace(function)
	if function == "" {
		return nil, &ConfigurationError{Msg: "invocation function not configured"}
	}
	encoded, err := ledger.EncodeArgs(args...)
	if err != nil {
		return nil, err
	}
	return b.build(source, &ledger.Operation{Invoke: &ledger.InvokeContractOp{
		Source:   source,
		Contract: contract,
		Function: function,
		Args:     encoded,
	}}, memo)
}

func (b *Builder) build(source crypto.Address, op *ledger.Operation, memo string) (*ledger.Envelope, error) {
	if source.IsZero() {
		return nil, &ledger.ValidationError{Msg: "source address is required"}
	}
	memo = strings.TrimSpace(memo)
	if len(memo) > ledger.MaxMemoBytes {
		return nil, &ledger.ValidationError{Msg: "memo exceeds 28 bytes"}
	}
	now := b.now().UTC()
	return &ledger.Envelope{Tx: ledger.Transaction{
		Source: source,
		Fee:    b.baseFee,
		SeqNum: 0,
		Bounds: ledger.TimeBounds{
			MinTime: 0,
			MaxTime: uint64(now.Add(b.window).Unix()),
		},
		Memo:       memo,
		Operations: []*ledger.Operation{op},
	}}, nil
}
