package sponsor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zapspay/ledgerrpc"
)

// SubmitClient is the node surface the submitter needs.
type SubmitClient interface {
	SendTransaction(ctx context.Context, envelope string) (*ledgerrpc.SendResult, error)
	GetTransaction(ctx context.Context, hash string) (*ledgerrpc.TransactionStatus, error)
}

// Confirmation reports a transaction observed as successful on-chain.
type Confirmation struct {
	Hash   string
	Ledger uint64
}

// SubmitterConfig wires a submitter. Timeout bounds the whole wait for
// finality; PollInterval paces the status checks within it.
type SubmitterConfig struct {
	Client       SubmitClient
	PollInterval time.Duration
	Timeout      time.Duration
}

const (
	defaultSubmitPollInterval = 2 * time.Second
	defaultFinalityTimeout    = 60 * time.Second
)

// Submitter sends fully-signed envelopes and polls until a terminal status
// is observed or the finality deadline passes.
type Submitter struct {
	client       SubmitClient
	pollInterval time.Duration
	timeout      time.Duration
}

func NewSubmitter(cfg SubmitterConfig) *Submitter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultSubmitPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFinalityTimeout
	}
	return &Submitter{
		client:       cfg.Client,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
	}
}

// Submit sends the base64 envelope and waits for a terminal status.
// NOT_FOUND while polling is a normal transient state. A deadline lapse
// returns *FinalityTimeoutError, which is distinct from an on-chain
// failure: the transaction may still settle later.
func (s *Submitter) Submit(ctx context.Context, envelope string) (*Confirmation, error) {
	send, err := s.client.SendTransaction(ctx, envelope)
	if err != nil {
		return nil, err
	}
	switch send.Status {
	case ledgerrpc.SendStatusPending, ledgerrpc.SendStatusDuplicate:
		return s.awaitFinality(ctx, send.Hash)
	case ledgerrpc.SendStatusTryAgainLater:
		return nil, &ledgerrpc.TransportError{Op: "tx_send", Err: errors.New("node busy, submission not accepted")}
	case ledgerrpc.SendStatusError:
		return nil, &TransactionRejectedError{Hash: send.Hash, Detail: send.ErrorDetail}
	default:
		return nil, &ledgerrpc.TransportError{Op: "tx_send", Err: fmt.Errorf("unknown send status %q", send.Status)}
	}
}

// Wait resumes polling for a hash that was already submitted, under the
// same deadline and terminal-status rules as Submit.
func (s *Submitter) Wait(ctx context.Context, hash string) (*Confirmation, error) {
	return s.awaitFinality(ctx, hash)
}

func (s *Submitter) awaitFinality(ctx context.Context, hash string) (*Confirmation, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, &FinalityTimeoutError{Hash: hash}
		case <-ticker.C:
			status, err := s.client.GetTransaction(ctx, hash)
			if err != nil {
				// Transport blips do not abort the wait; the
				// deadline bounds how long they can stall us.
				continue
			}
			switch status.Status {
			case ledgerrpc.TxStatusSuccess:
				return &Confirmation{Hash: hash, Ledger: status.Ledger}, nil
			case ledgerrpc.TxStatusFailed:
				return nil, &TransactionFailedError{Hash: hash, Ledger: status.Ledger, Detail: status.ErrorDetail}
			case ledgerrpc.TxStatusNotFound:
				continue
			}
		}
	}
}
