package sponsor

import (
	"context"
	"errors"
	"testing"
	"time"

	"zapspay/ledgerrpc"
)

type statusReply struct {
	status *ledgerrpc.TransactionStatus
	err    error
}

type fakeSubmitClient struct {
	send     *ledgerrpc.SendResult
	sendErr  error
	replies  []statusReply
	lookups  int
	envelope string
}

func (f *fakeSubmitClient) SendTransaction(_ context.Context, envelope string) (*ledgerrpc.SendResult, error) {
	f.envelope = envelope
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.send, nil
}

func (f *fakeSubmitClient) GetTransaction(_ context.Context, hash string) (*ledgerrpc.TransactionStatus, error) {
	idx := f.lookups
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	f.lookups++
	reply := f.replies[idx]
	return reply.status, reply.err
}

func newTestSubmitter(client SubmitClient) *Submitter {
	return NewSubmitter(SubmitterConfig{
		Client:       client,
		PollInterval: 2 * time.Millisecond,
		Timeout:      time.Second,
	})
}

func TestSubmitPollsToSuccess(t *testing.T) {
	client := &fakeSubmitClient{
		send: &ledgerrpc.SendResult{Status: ledgerrpc.SendStatusPending, Hash: "abc123"},
		replies: []statusReply{
			{status: &ledgerrpc.TransactionStatus{Status: ledgerrpc.TxStatusNotFound}},
			{status: &ledgerrpc.TransactionStatus{Status: ledgerrpc.TxStatusNotFound}},
			{status: &ledgerrpc.TransactionStatus{Status: ledgerrpc.TxStatusSuccess, Ledger: 777}},
		},
	}
	conf, err := newTestSubmitter(client).Submit(context.Background(), "ENVELOPE")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if conf.Hash != "abc123" || conf.Ledger != 777 {
		t.Fatalf("confirmation = %+v", conf)
	}
	if client.envelope != "ENVELOPE" {
		t.Fatal("submitter must send the envelope it was given")
	}
	if client.lookups != 3 {
		t.Fatalf("looked up %d times, want 3", client.lookups)
	}
}

func TestSubmitDuplicateIsPolled(t *testing.T) {
	client := &fakeSubmitClient{
		send: &ledgerrpc.SendResult{Status: ledgerrpc.SendStatusDuplicate, Hash: "abc123"},
		replies: []statusReply{
			{status: &ledgerrpc.TransactionStatus{Status: ledgerrpc.TxStatusSuccess, Ledger: 500}},
		},
	}
	conf, err := newTestSubmitter(client).Submit(context.Background(), "ENVELOPE")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if conf.Ledger != 500 {
		t.Fatalf("confirmation = %+v", conf)
	}
}

func TestSubmitRejectedAtSendTime(t *testing.T) {
	client := &fakeSubmitClient{
		send: &ledgerrpc.SendResult{Status: ledgerrpc.SendStatusError, Hash: "abc123", ErrorDetail: "bad sequence"},
	}
	_, err := newTestSubmitter(client).Submit(context.Background(), "ENVELOPE")
	var rejected *TransactionRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error = %v (%T), want *TransactionRejectedError", err, err)
	}
	if rejected.Detail != "bad sequence" {
		t.Fatalf("detail = %q", rejected.Detail)
	}
	if client.lookups != 0 {
		t.Fatal("a rejected send must not be polled")
	}
}

func TestSubmitNodeBusyIsTransport(t *testing.T) {
	client := &fakeSubmitClient{
		send: &ledgerrpc.SendResult{Status: ledgerrpc.SendStatusTryAgainLater},
	}
	_, err := newTestSubmitter(client).Submit(context.Background(), "ENVELOPE")
	var tErr *ledgerrpc.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("error = %v (%T), want *TransportError", err, err)
	}
}

func TestSubmitFailedOnChain(t *testing.T) {
	client := &fakeSubmitClient{
		send: &ledgerrpc.SendResult{Status: ledgerrpc.SendStatusPending, Hash: "abc123"},
		replies: []statusReply{
			{status: &ledgerrpc.TransactionStatus{Status: ledgerrpc.TxStatusNotFound}},
			{status: &ledgerrpc.TransactionStatus{Status: ledgerrpc.TxStatusFailed, Ledger: 801, ErrorDetail: "insufficient balance"}},
		},
	}
	_, err := newTestSubmitter(client).Submit(context.Background(), "ENVELOPE")
	var failed *TransactionFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error = %v (%T), want *TransactionFailedError", err, err)
	}
	if failed.Hash != "abc123" || failed.Ledger != 801 {
		t.Fatalf("failure = %+v", failed)
	}
}

func TestSubmitFinalityTimeout(t *testing.T) {
	client := &fakeSubmitClient{
		send: &ledgerrpc.SendResult{Status: ledgerrpc.SendStatusPending, Hash: "abc123"},
		replies: []statusReply{
			{err: &ledgerrpc.TransportError{Op: "tx_get", Err: errors.New("blip")}},
			{status: &ledgerrpc.TransactionStatus{Status: ledgerrpc.TxStatusNotFound}},
		},
	}
	submitter := NewSubmitter(SubmitterConfig{
		Client:       client,
		PollInterval: 2 * time.Millisecond,
		Timeout:      30 * time.Millisecond,
	})
	_, err := submitter.Submit(context.Background(), "ENVELOPE")
	var timeout *FinalityTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("error = %v (%T), want *FinalityTimeoutError", err, err)
	}
	if timeout.Hash != "abc123" {
		t.Fatalf("timeout hash = %q", timeout.Hash)
	}
	var failed *TransactionFailedError
	if errors.As(err, &failed) {
		t.Fatal("a timeout must not look like an on-chain failure")
	}
	if client.lookups < 2 {
		t.Fatal("poller must keep polling through transport blips")
	}
}

func TestSubmitRespectsCancellation(t *testing.T) {
	client := &fakeSubmitClient{
		send: &ledgerrpc.SendResult{Status: ledgerrpc.SendStatusPending, Hash: "abc123"},
		replies: []statusReply{
			{status: &ledgerrpc.TransactionStatus{Status: ledgerrpc.TxStatusNotFound}},
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	submitter := NewSubmitter(SubmitterConfig{
		Client:       client,
		PollInterval: 50 * time.Millisecond,
		Timeout:      10 * time.Second,
	})
	_, err := submitter.Submit(ctx, "ENVELOPE")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestWaitResumesPolling(t *testing.T) {
	client := &fakeSubmitClient{
		replies: []statusReply{
			{status: &ledgerrpc.TransactionStatus{Status: ledgerrpc.TxStatusNotFound}},
			{status: &ledgerrpc.TransactionStatus{Status: ledgerrpc.TxStatusSuccess, Ledger: 901}},
		},
	}
	conf, err := newTestSubmitter(client).Wait(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if conf.Hash != "abc123" || conf.Ledger != 901 {
		t.Fatalf("confirmation = %+v", conf)
	}
	if client.envelope != "" {
		t.Fatal("wait must not resubmit the envelope")
	}
}
