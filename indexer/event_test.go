package indexer

import (
	"math/big"
	"testing"

	"zapspay/ledgerrpc"
)

func TestNormalizeKnownKinds(t *testing.T) {
	cases := []struct {
		name     string
		phase    string
		wantKind Kind
	}{
		{name: "initiated", phase: "initiated", wantKind: KindInitiated},
		{name: "settled", phase: "settled", wantKind: KindSettled},
		{name: "failed", phase: "failed", wantKind: KindFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := ledgerrpc.Event{
				ID:       "evt-1",
				Ledger:   412,
				Contract: "CAAA",
				Topics:   []string{" payment ", tc.phase, "GPAYER", "merch-9"},
				Value:    "2500000",
				TxHash:   "beef",
			}
			evt := Normalize(raw)
			if evt.Kind != tc.wantKind {
				t.Fatalf("kind = %v, want %v", evt.Kind, tc.wantKind)
			}
			if evt.Stream != StreamPayment || evt.Payer != "GPAYER" || evt.Target != "merch-9" {
				t.Fatalf("normalized fields: %+v", evt)
			}
			if evt.Amount == nil || evt.Amount.Cmp(big.NewInt(2_500_000)) != 0 {
				t.Fatalf("amount = %v", evt.Amount)
			}
			if evt.Ledger != 412 || evt.TxHash != "beef" {
				t.Fatalf("passthrough fields: %+v", evt)
			}
		})
	}
}

func TestNormalizeUnknownFallback(t *testing.T) {
	cases := []struct {
		name string
		raw  ledgerrpc.Event
	}{
		{name: "too few topics", raw: ledgerrpc.Event{Topics: []string{"payment", "settled", "GPAYER"}}},
		{name: "foreign stream", raw: ledgerrpc.Event{Topics: []string{"mint", "settled", "GPAYER", "merch-9"}}},
		{name: "foreign phase", raw: ledgerrpc.Event{Topics: []string{"payment", "ack", "GPAYER", "merch-9"}}},
		{name: "no topics", raw: ledgerrpc.Event{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if evt := Normalize(tc.raw); evt.Kind != KindUnknown {
				t.Fatalf("kind = %v, want KindUnknown", evt.Kind)
			}
		})
	}
}

func TestNormalizeBadAmount(t *testing.T) {
	raw := ledgerrpc.Event{Topics: []string{"transfer", "settled", "GPAYER", "GDEST"}, Value: "not a number"}
	evt := Normalize(raw)
	if evt.Kind != KindSettled {
		t.Fatalf("kind = %v", evt.Kind)
	}
	if evt.Amount != nil {
		t.Fatalf("amount = %v, want nil for unparseable value", evt.Amount)
	}
}

func TestDedupKeyPrefersID(t *testing.T) {
	withID := ledgerrpc.Event{ID: " evt-7 ", Ledger: 1, Contract: "CAAA", Topics: []string{"payment"}}
	if got := DedupKey(withID); got != "evt-7" {
		t.Fatalf("key = %q, want the trimmed event id", got)
	}
}

func TestDedupKeyDerived(t *testing.T) {
	a := ledgerrpc.Event{Ledger: 412, Contract: "CAAA", Topics: []string{"payment", "settled", "GPAYER", "merch-9"}}
	b := ledgerrpc.Event{Ledger: 412, Contract: "CAAA", Topics: []string{" payment", "settled ", "GPAYER", "merch-9"}}
	if DedupKey(a) != DedupKey(b) {
		t.Fatal("identical events must derive identical keys after topic canonicalization")
	}
	c := ledgerrpc.Event{Ledger: 413, Contract: "CAAA", Topics: a.Topics}
	if DedupKey(a) == DedupKey(c) {
		t.Fatal("different ledgers must derive different keys")
	}
	d := ledgerrpc.Event{Ledger: 412, Contract: "CBBB", Topics: a.Topics}
	if DedupKey(a) == DedupKey(d) {
		t.Fatal("different contracts must derive different keys")
	}
}
