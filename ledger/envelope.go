package ledger

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"zapspay/crypto"
)

// envelopeTag domain-separates transaction signing payloads from any other
// artifact signed with the same network identifier.
const envelopeTag uint32 = 2

// MaxMemoBytes caps the memo text an envelope carries.
const MaxMemoBytes = 28

// TimeBounds bound the window in which a transaction may be included.
// Zero MaxTime means no upper bound.
type TimeBounds struct {
	MinTime uint64
	MaxTime uint64
}

// PaymentOp moves Amount of Asset from the operation source to Destination.
type PaymentOp struct {
	Source      crypto.Address
	Destination crypto.Address
	Asset       Asset
	Amount      *big.Int
}

// InvokeContractOp calls Function on Contract with canonically encoded
// arguments. Auth carries the authorization entries simulation supplied;
// the relay treats them as opaque and never rewrites them.
type InvokeContractOp struct {
	Source   crypto.Address
	Contract crypto.ContractID
	Function string
	Args     [][]byte
	Auth     [][]byte
}

// Operation kinds on the wire.
const (
	opKindPayment uint8 = 1
	opKindInvoke  uint8 = 2
)

// Operation is the tagged union of the operation kinds. Exactly one body is
// set.
type Operation struct {
	Payment *PaymentOp
	Invoke  *InvokeContractOp
}

// SourceAddress returns the operation-level source account.
func (op *Operation) SourceAddress() crypto.Address {
	switch {
	case op.Payment != nil:
		return op.Payment.Source
	case op.Invoke != nil:
		return op.Invoke.Source
	}
	return crypto.Address{}
}

type wireOperation struct {
	Kind uint8
	Body []byte
}

func (op *Operation) EncodeRLP(w io.Writer) error {
	switch {
	case op.Payment != nil && op.Invoke != nil:
		return errors.New("ledger: operation has two bodies")
	case op.Payment != nil:
		body, err := rlp.EncodeToBytes(op.Payment)
		if err != nil {
			return err
		}
		return rlp.Encode(w, wireOperation{Kind: opKindPayment, Body: body})
	case op.Invoke != nil:
		body, err := rlp.EncodeToBytes(op.Invoke)
		if err != nil {
			return err
		}
		return rlp.Encode(w, wireOperation{Kind: opKindInvoke, Body: body})
	}
	return errors.New("ledger: empty operation")
}

func (op *Operation) DecodeRLP(s *rlp.Stream) error {
	var wire wireOperation
	if err := s.Decode(&wire); err != nil {
		return err
	}
	switch wire.Kind {
	case opKindPayment:
		payment := new(PaymentOp)
		if err := rlp.DecodeBytes(wire.Body, payment); err != nil {
			return err
		}
		*op = Operation{Payment: payment}
	case opKindInvoke:
		invoke := new(InvokeContractOp)
		if err := rlp.DecodeBytes(wire.Body, invoke); err != nil {
			return err
		}
		*op = Operation{Invoke: invoke}
	default:
		return fmt.Errorf("ledger: unknown operation kind %d", wire.Kind)
	}
	return nil
}

// Transaction is the unsigned body of an envelope. Source owns the sequence
// number and pays the fee; operation-level sources authorize the value
// movement independently.
type Transaction struct {
	Source     crypto.Address
	Fee        uint64
	SeqNum     uint64
	Bounds     TimeBounds
	Memo       string
	Operations []*Operation
	Ext        []byte
}

// DecoratedSignature pairs a signature with the hint of the signing key.
type DecoratedSignature struct {
	Hint      [4]byte
	Signature []byte
}

// Envelope wraps a transaction with the signatures gathered so far.
type Envelope struct {
	Tx         Transaction
	Signatures []DecoratedSignature
}

// SigningPayload returns the digest a signer commits to for this
// transaction on the given network.
func (tx *Transaction) SigningPayload(networkID [32]byte) ([32]byte, error) {
	body, err := rlp.EncodeToBytes(tx)
	if err != nil {
		return [32]byte{}, err
	}
	var tag [4]byte
	binary.BigEndian.PutUint32(tag[:], envelopeTag)
	h := sha256.New()
	h.Write(networkID[:])
	h.Write(tag[:])
	h.Write(body)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Hash is the transaction identity on the network: the hex form of the
// signing payload.
func (tx *Transaction) Hash(networkID [32]byte) (string, error) {
	digest, err := tx.SigningPayload(networkID)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(digest[:]), nil
}

// Sign appends the key's decorated signature over the network-bound
// payload.
func (e *Envelope) Sign(network Network, key *crypto.PrivateKey) error {
	if key == nil {
		return errors.New("ledger: nil signing key")
	}
	digest, err := e.Tx.SigningPayload(network.ID())
	if err != nil {
		return err
	}
	e.Signatures = append(e.Signatures, DecoratedSignature{
		Hint:      key.Hint(),
		Signature: key.Sign(digest[:]),
	})
	return nil
}

// SignedBy reports whether exactly the given account has signed, which is
// what a freshly sponsored envelope must look like.
func (e *Envelope) SignedBy(addr crypto.Address, networkID [32]byte) bool {
	digest, err := e.Tx.SigningPayload(networkID)
	if err != nil {
		return false
	}
	for _, sig := range e.Signatures {
		if sig.Hint == addr.Hint() && crypto.Verify(addr, digest[:], sig.Signature) {
			return true
		}
	}
	return false
}

// Base64 serializes the envelope wire form for transport.
func (e *Envelope) Base64() (string, error) {
	raw, err := rlp.EncodeToBytes(e)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ParseEnvelope decodes an envelope produced by Base64.
func ParseEnvelope(s string) (*Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, validationf("envelope is not valid base64")
	}
	env := new(Envelope)
	if err := rlp.DecodeBytes(raw, env); err != nil {
		return nil, validationf("malformed envelope: %v", err)
	}
	return env, nil
}

// Clone deep-copies the envelope so callers can merge simulation results or
// rebuild around a new source without mutating the input.
func (e *Envelope) Clone() *Envelope {
	out := &Envelope{Tx: e.Tx}
	out.Tx.Ext = append([]byte(nil), e.Tx.Ext...)
	if len(e.Tx.Operations) > 0 {
		out.Tx.Operations = make([]*Operation, 0, len(e.Tx.Operations))
		for _, op := range e.Tx.Operations {
			clone := &Operation{}
			if op.Payment != nil {
				payment := *op.Payment
				if op.Payment.Amount != nil {
					payment.Amount = new(big.Int).Set(op.Payment.Amount)
				}
				clone.Payment = &payment
			}
			if op.Invoke != nil {
				invoke := *op.Invoke
				invoke.Args = append([][]byte(nil), op.Invoke.Args...)
				invoke.Auth = append([][]byte(nil), op.Invoke.Auth...)
				clone.Invoke = &invoke
			}
			out.Tx.Operations = append(out.Tx.Operations, clone)
		}
	}
	if len(e.Signatures) > 0 {
		out.Signatures = append([]DecoratedSignature(nil), e.Signatures...)
	}
	return out
}
