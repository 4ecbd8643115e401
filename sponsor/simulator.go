package sponsor

import (
	"context"
	"encoding/base64"
	"fmt"

	"zapspay/ledger"
	"zapspay/ledgerrpc"
)

// SimulationClient is the node surface the simulator needs.
type SimulationClient interface {
	Simulate(ctx context.Context, envelope string) (*ledgerrpc.SimulationResult, error)
}

// Prepared is a simulation outcome merged into a fresh copy of the input
// envelope: resource data in the extension block, auth entries on the
// invoked operation.
type Prepared struct {
	Envelope        *ledger.Envelope
	MinResourceFee  uint64
	TransactionData []byte
	AuthEntries     [][]byte
	LatestLedger    uint64
}

// Simulator dry-runs envelopes against the node. It is read-only against
// the network and never mutates its input.
type Simulator struct {
	client SimulationClient
}

func NewSimulator(client SimulationClient) *Simulator {
	return &Simulator{client: client}
}

// Prepare simulates the envelope and returns the prepared copy. Simulation
// rejections surface as *SimulationError, ambiguous responses as
// *SimulationUnexpectedError, and transport failures propagate unchanged.
func (s *Simulator) Prepare(ctx context.Context, env *ledger.Envelope) (*Prepared, error) {
	encoded, err := env.Base64()
	if err != nil {
		return nil, fmt.Errorf("encode envelope for simulation: %w", err)
	}
	result, err := s.client.Simulate(ctx, encoded)
	if err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, &SimulationError{Msg: result.Error}
	}
	if result.MinResourceFee == 0 && result.TransactionData == "" {
		return nil, &SimulationUnexpectedError{Msg: "response carries neither a fee nor resource data"}
	}
	txData, err := base64.StdEncoding.DecodeString(result.TransactionData)
	if err != nil {
		return nil, &SimulationUnexpectedError{Msg: "transaction data is not valid base64"}
	}
	auth := make([][]byte, 0, len(result.AuthEntries))
	for i, entry := range result.AuthEntries {
		raw, err := base64.StdEncoding.DecodeString(entry)
		if err != nil {
			return nil, &SimulationUnexpectedError{Msg: fmt.Sprintf("auth entry %d is not valid base64", i)}
		}
		auth = append(auth, raw)
	}

	prepared := env.Clone()
	prepared.Tx.Ext = txData
	if len(auth) > 0 {
		if op := firstInvoke(prepared); op != nil {
			op.Auth = auth
		} else {
			return nil, &SimulationUnexpectedError{Msg: "auth entries returned for an envelope with no invocation"}
		}
	}
	return &Prepared{
		Envelope:        prepared,
		MinResourceFee:  result.MinResourceFee,
		TransactionData: txData,
		AuthEntries:     auth,
		LatestLedger:    result.LatestLedger,
	}, nil
}

func firstInvoke(env *ledger.Envelope) *ledger.InvokeContractOp {
	for _, op := range env.Tx.Operations {
		if op.Invoke != nil {
			return op.Invoke
		}
	}
	return nil
}
