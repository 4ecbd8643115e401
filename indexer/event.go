package indexer

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strings"

	"lukechampine.com/blake3"

	"zapspay/ledgerrpc"
)

// Kind classifies a settlement event after topic decoding.
type Kind int

const (
	KindUnknown Kind = iota
	KindInitiated
	KindSettled
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindInitiated:
		return "initiated"
	case KindSettled:
		return "settled"
	case KindFailed:
		return "failed"
	}
	return "unknown"
}

// Streams the registry contract emits events on. Payments settle against a
// merchant; transfers settle against a recipient address.
const (
	StreamPayment  = "payment"
	StreamTransfer = "transfer"
)

// Event is the normalized, tagged form of a raw node event. Topic layout
// on the known streams: [stream, phase, payer, target]. Target is a
// merchant identifier on the payment stream and a recipient address on the
// transfer stream.
type Event struct {
	ID       string
	Ledger   uint64
	Contract string
	TxHash   string
	ClosedAt int64
	Kind     Kind
	Stream   string
	Payer    string
	Target   string
	Amount   *big.Int
}

// Normalize decodes a raw event into the tagged form. Events that do not
// match a known stream/phase/topic shape come back as KindUnknown and are
// counted, never dispatched as settlements.
func Normalize(raw ledgerrpc.Event) Event {
	evt := Event{
		ID:       strings.TrimSpace(raw.ID),
		Ledger:   raw.Ledger,
		Contract: strings.TrimSpace(raw.Contract),
		TxHash:   strings.TrimSpace(raw.TxHash),
		ClosedAt: raw.ClosedAt,
		Kind:     KindUnknown,
	}
	topics := canonicalTopics(raw.Topics)
	if len(topics) < 4 {
		return evt
	}
	stream := topics[0]
	if stream != StreamPayment && stream != StreamTransfer {
		return evt
	}
	var kind Kind
	switch topics[1] {
	case "initiated":
		kind = KindInitiated
	case "settled":
		kind = KindSettled
	case "failed":
		kind = KindFailed
	default:
		return evt
	}
	evt.Kind = kind
	evt.Stream = stream
	evt.Payer = topics[2]
	evt.Target = topics[3]
	if value := strings.TrimSpace(raw.Value); value != "" {
		if amount, ok := new(big.Int).SetString(value, 10); ok {
			evt.Amount = amount
		}
	}
	return evt
}

// DedupKey returns the composite identity used for in-batch dedup: the
// node-assigned id when present, otherwise a digest over
// (ledger, contract, topics).
func DedupKey(raw ledgerrpc.Event) string {
	if id := strings.TrimSpace(raw.ID); id != "" {
		return id
	}
	h := blake3.New(32, nil)
	var ledgerBuf [8]byte
	binary.BigEndian.PutUint64(ledgerBuf[:], raw.Ledger)
	h.Write(ledgerBuf[:])
	h.Write([]byte(strings.TrimSpace(raw.Contract)))
	for _, topic := range canonicalTopics(raw.Topics) {
		h.Write([]byte{0})
		h.Write([]byte(topic))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		out = append(out, strings.TrimSpace(t))
	}
	return out
}
