package storage

import (
	"time"

	"github.com/google/uuid"
)

// Status is a payment or transfer lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// validNext encodes the status machine: no skipped states and no reverse
// moves. Completion of a still-PENDING row records the PROCESSING hop on
// the way through (see CompletePayment).
var validNext = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusFailed:     true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// CanTransition reports whether the machine permits moving to next.
// Terminal states permit nothing.
func (s Status) CanTransition(next Status) bool {
	return validNext[s][next]
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

// Payment is a merchant-directed transfer intent. Rows are never deleted;
// the table is the audit trail of everything the relay was asked to move.
// Amounts are decimal strings in the smallest asset unit.
type Payment struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	FromAddress   string    `gorm:"size:64;index:idx_payments_open,priority:2"`
	MerchantID    string    `gorm:"size:64;index:idx_payments_open,priority:1"`
	SendAsset     string    `gorm:"size:80"`
	SendAmount    string    `gorm:"size:48;not null"`
	ReceiveAmount string    `gorm:"size:48"`
	Status        Status    `gorm:"size:16;index:idx_payments_open,priority:3"`
	Memo          string    `gorm:"size:64"`
	TxHash        string    `gorm:"size:80;index"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

// Transfer is the peer-to-peer analogue of Payment, keyed by user ids and
// settled against the recipient's ledger address.
type Transfer struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	FromUserID    string    `gorm:"size:64;index"`
	ToUserID      string    `gorm:"size:64;index"`
	FromAddress   string    `gorm:"size:64;index:idx_transfers_open,priority:2"`
	ToAddress     string    `gorm:"size:64;index:idx_transfers_open,priority:1"`
	SendAsset     string    `gorm:"size:80"`
	SendAmount    string    `gorm:"size:48;not null"`
	ReceiveAmount string    `gorm:"size:48"`
	Status        Status    `gorm:"size:16;index:idx_transfers_open,priority:3"`
	Memo          string    `gorm:"size:64"`
	TxHash        string    `gorm:"size:80;index"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

// EventCheckpoint persists an ingestion cursor across restarts.
type EventCheckpoint struct {
	Name      string `gorm:"primaryKey;size:64"`
	Ledger    uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

// IdempotencyKey stores request idempotency metadata for mutating API
// calls.
type IdempotencyKey struct {
	Key         string `gorm:"primaryKey;size:128"`
	RequestHash string `gorm:"size:64"`
	Method      string `gorm:"size:8"`
	Path        string `gorm:"size:255"`
	Status      int
	Response    string `gorm:"type:text"`
	CreatedAt   time.Time
}

// AuditEntry records each state mutation applied to a payment or transfer.
type AuditEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Stream    string    `gorm:"size:16;index"`
	RecordID  uuid.UUID `gorm:"type:uuid;index"`
	Action    string    `gorm:"size:64"`
	Details   string    `gorm:"type:text"`
	CreatedAt time.Time
}

// Streams audit entries and reconciliation outcomes are tagged with.
const (
	StreamPayment  = "payment"
	StreamTransfer = "transfer"
)
