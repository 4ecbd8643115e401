package sponsor

import (
	"context"
	"fmt"
	"time"

	"zapspay/crypto"
	"zapspay/ledger"
	"zapspay/ledgerrpc"
	"zapspay/observability"
)

// AccountClient loads on-ledger account state.
type AccountClient interface {
	GetAccount(ctx context.Context, address string) (*ledgerrpc.Account, error)
}

// Sponsored is the half-signed artifact returned to the caller. The
// envelope carries exactly the fee payer's signature; the user signs their
// own operation-level authorization before submitting.
type Sponsored struct {
	Envelope          *ledger.Envelope
	EnvelopeB64       string
	TxHash            string
	FeePayer          string
	NetworkPassphrase string
	MinResourceFee    uint64
	TransactionData   []byte
}

// EngineConfig wires a fee sponsorship engine. Key is the operator's
// fee-payer signing key, the only private key resident in the process. It
// is loaded once at startup and never mutated.
type EngineConfig struct {
	Network   ledger.Network
	Key       *crypto.PrivateKey
	Simulator *Simulator
	Accounts  AccountClient
	Metrics   *observability.SponsorMetrics
}

// Engine rebuilds simulated envelopes around the operator's fee-payer
// account. Operations and their embedded authorization stay verbatim, so
// the user's intent is untouched; only the fee source, sequence owner, and
// fee-payer signature change hands.
type Engine struct {
	network   ledger.Network
	key       *crypto.PrivateKey
	simulator *Simulator
	accounts  AccountClient
	metrics   *observability.SponsorMetrics
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		network:   cfg.Network,
		key:       cfg.Key,
		simulator: cfg.Simulator,
		accounts:  cfg.Accounts,
		metrics:   cfg.Metrics,
	}
}

// FeePayer returns the operator account that fronts fees, or the empty
// string if sponsorship is not configured.
func (e *Engine) FeePayer() string {
	if e.key == nil {
		return ""
	}
	return e.key.Address().String()
}

// Sponsor runs the full sponsorship sequence on an unsigned envelope:
// simulate, load the fee payer's sequence number, rebuild with the
// operator as envelope source, and sign the fee-payer portion only.
//
// Simulation failures propagate before the account load is attempted, so
// an invalid invocation never costs a network round trip for account
// state.
func (e *Engine) Sponsor(ctx context.Context, env *ledger.Envelope) (*Sponsored, error) {
	if e.key == nil {
		return nil, ErrFeePayerNotConfigured
	}
	simStart := time.Now()
	prepared, err := e.simulator.Prepare(ctx, env)
	e.metrics.Observe("simulate", time.Since(simStart), err)
	if err != nil {
		return nil, err
	}

	feePayer := e.key.Address()
	loadStart := time.Now()
	account, err := e.accounts.GetAccount(ctx, feePayer.String())
	e.metrics.Observe("account_load", time.Since(loadStart), err)
	if err != nil {
		return nil, err
	}

	out := prepared.Envelope.Clone()
	out.Tx.Source = feePayer
	out.Tx.SeqNum = account.Sequence + 1
	out.Tx.Fee = env.Tx.Fee + prepared.MinResourceFee
	out.Signatures = nil
	if err := out.Sign(e.network, e.key); err != nil {
		return nil, fmt.Errorf("sign sponsored envelope: %w", err)
	}

	hash, err := out.Tx.Hash(e.network.ID())
	if err != nil {
		return nil, fmt.Errorf("hash sponsored envelope: %w", err)
	}
	encoded, err := out.Base64()
	if err != nil {
		return nil, fmt.Errorf("encode sponsored envelope: %w", err)
	}
	e.metrics.RecordResourceFee(prepared.MinResourceFee)
	return &Sponsored{
		Envelope:          out,
		EnvelopeB64:       encoded,
		TxHash:            hash,
		FeePayer:          feePayer.String(),
		NetworkPassphrase: e.network.Passphrase,
		MinResourceFee:    prepared.MinResourceFee,
		TransactionData:   prepared.TransactionData,
	}, nil
}
