package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"zapspay/crypto"
	"zapspay/ledger"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("storage: record not found")

// InvalidTransitionError reports a status move the machine forbids.
type InvalidTransitionError struct {
	Stream string
	From   Status
	To     Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s status cannot move %s -> %s", e.Stream, e.From, e.To)
}

// Store wraps the relational database holding payment state, cursor
// checkpoints, idempotency records, and the audit trail.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the database named by dsn and migrates the schema.
// postgres:// DSNs use the postgres driver; anything else is treated as a
// SQLite path, which tests use with in-memory DSNs.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewStore(db)
}

// NewStore wraps an existing gorm handle and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("storage: nil database handle")
	}
	if err := db.AutoMigrate(
		&Payment{},
		&Transfer{},
		&EventCheckpoint{},
		&IdempotencyKey{},
		&AuditEntry{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// CreatePayment validates and inserts a new PENDING payment row.
func (s *Store) CreatePayment(ctx context.Context, p *Payment) error {
	if p == nil {
		return errors.New("storage: nil payment")
	}
	if _, err := crypto.ParseAddress(p.FromAddress); err != nil {
		return &ledger.ValidationError{Msg: "payer address is not a valid G... address"}
	}
	if strings.TrimSpace(p.MerchantID) == "" {
		return &ledger.ValidationError{Msg: "merchant id is required"}
	}
	if _, err := ledger.ParseAsset(p.SendAsset); err != nil {
		return err
	}
	if _, err := ledger.ParseAmount(p.SendAmount); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if p.Status != StatusPending {
		return &ledger.ValidationError{Msg: "payments start in PENDING"}
	}
	now := s.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		return s.appendAuditTx(tx, StreamPayment, p.ID, "created", fmt.Sprintf("merchant=%s amount=%s %s", p.MerchantID, p.SendAmount, p.SendAsset))
	})
}

// GetPayment loads a payment by id.
func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var p Payment
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// FindOpenPayment returns the most recent PENDING or PROCESSING payment
// for a (merchant, payer) pair, or ErrNotFound. Rows already terminal are
// deliberately invisible here so replayed settlement events match nothing.
func (s *Store) FindOpenPayment(ctx context.Context, merchantID, payerAddress string) (*Payment, error) {
	var p Payment
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND from_address = ? AND status IN ?",
			merchantID, payerAddress, []Status{StatusPending, StatusProcessing}).
		Order("created_at DESC").
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// MarkPaymentProcessing moves a payment to PROCESSING and records the
// submitted transaction hash.
func (s *Store) MarkPaymentProcessing(ctx context.Context, id uuid.UUID, txHash string) error {
	return s.transitionPayment(ctx, id, StatusProcessing, "submitted", func(prev Status, p *Payment) {
		applyTxHash(p, prev, txHash)
	})
}

// CompletePayment moves a payment to COMPLETED, settling the receive
// amount and, if still unset, the transaction hash. Settlement can land
// before any submission path touched the row; the machine forbids
// skipping PROCESSING, so that hop is recorded on the way through.
func (s *Store) CompletePayment(ctx context.Context, id uuid.UUID, txHash, receiveAmount string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Payment
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if p.Status == StatusPending {
			prev := p.Status
			p.Status = StatusProcessing
			applyTxHash(&p, prev, txHash)
			p.UpdatedAt = s.now().UTC()
			if err := tx.Save(&p).Error; err != nil {
				return err
			}
			if err := s.appendAuditTx(tx, StreamPayment, p.ID, "observed", fmt.Sprintf("from=%s to=%s", prev, StatusProcessing)); err != nil {
				return err
			}
		}
		if !p.Status.CanTransition(StatusCompleted) {
			return &InvalidTransitionError{Stream: StreamPayment, From: p.Status, To: StatusCompleted}
		}
		prev := p.Status
		p.Status = StatusCompleted
		applyTxHash(&p, prev, txHash)
		if receiveAmount != "" {
			p.ReceiveAmount = receiveAmount
		}
		p.UpdatedAt = s.now().UTC()
		if err := tx.Save(&p).Error; err != nil {
			return err
		}
		return s.appendAuditTx(tx, StreamPayment, p.ID, "settled", fmt.Sprintf("from=%s to=%s", prev, StatusCompleted))
	})
}

// FailPayment moves a payment to FAILED.
func (s *Store) FailPayment(ctx context.Context, id uuid.UUID, reason string) error {
	return s.transitionPayment(ctx, id, StatusFailed, "failed: "+reason, func(Status, *Payment) {})
}

func (s *Store) transitionPayment(ctx context.Context, id uuid.UUID, next Status, action string, mutate func(Status, *Payment)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Payment
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if !p.Status.CanTransition(next) {
			return &InvalidTransitionError{Stream: StreamPayment, From: p.Status, To: next}
		}
		prev := p.Status
		p.Status = next
		mutate(prev, &p)
		p.UpdatedAt = s.now().UTC()
		if err := tx.Save(&p).Error; err != nil {
			return err
		}
		return s.appendAuditTx(tx, StreamPayment, p.ID, action, fmt.Sprintf("from=%s to=%s", prev, next))
	})
}

// CreateTransfer validates and inserts a new PENDING transfer row.
func (s *Store) CreateTransfer(ctx context.Context, tr *Transfer) error {
	if tr == nil {
		return errors.New("storage: nil transfer")
	}
	if _, err := crypto.ParseAddress(tr.FromAddress); err != nil {
		return &ledger.ValidationError{Msg: "sender address is not a valid G... address"}
	}
	if _, err := crypto.ParseAddress(tr.ToAddress); err != nil {
		return &ledger.ValidationError{Msg: "recipient address is not a valid G... address"}
	}
	if _, err := ledger.ParseAsset(tr.SendAsset); err != nil {
		return err
	}
	if _, err := ledger.ParseAmount(tr.SendAmount); err != nil {
		return err
	}
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	if tr.Status == "" {
		tr.Status = StatusPending
	}
	if tr.Status != StatusPending {
		return &ledger.ValidationError{Msg: "transfers start in PENDING"}
	}
	now := s.now().UTC()
	tr.CreatedAt = now
	tr.UpdatedAt = now
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tr).Error; err != nil {
			return err
		}
		return s.appendAuditTx(tx, StreamTransfer, tr.ID, "created", fmt.Sprintf("to=%s amount=%s %s", tr.ToAddress, tr.SendAmount, tr.SendAsset))
	})
}

// GetTransfer loads a transfer by id.
func (s *Store) GetTransfer(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	var tr Transfer
	if err := s.db.WithContext(ctx).First(&tr, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &tr, nil
}

// FindOpenTransfer returns the most recent PENDING or PROCESSING transfer
// for a (recipient, payer) address pair, or ErrNotFound.
func (s *Store) FindOpenTransfer(ctx context.Context, recipientAddress, payerAddress string) (*Transfer, error) {
	var tr Transfer
	err := s.db.WithContext(ctx).
		Where("to_address = ? AND from_address = ? AND status IN ?",
			recipientAddress, payerAddress, []Status{StatusPending, StatusProcessing}).
		Order("created_at DESC").
		First(&tr).Error
	if err != nil {
		return nil, translate(err)
	}
	return &tr, nil
}

// MarkTransferProcessing moves a transfer to PROCESSING and records the
// submitted transaction hash.
func (s *Store) MarkTransferProcessing(ctx context.Context, id uuid.UUID, txHash string) error {
	return s.transitionTransfer(ctx, id, StatusProcessing, "submitted", func(prev Status, tr *Transfer) {
		applyTransferTxHash(tr, prev, txHash)
	})
}

// CompleteTransfer moves a transfer to COMPLETED, recording the
// PROCESSING hop when settlement arrives for a still-PENDING row.
func (s *Store) CompleteTransfer(ctx context.Context, id uuid.UUID, txHash, receiveAmount string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tr Transfer
		if err := tx.First(&tr, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if tr.Status == StatusPending {
			prev := tr.Status
			tr.Status = StatusProcessing
			applyTransferTxHash(&tr, prev, txHash)
			tr.UpdatedAt = s.now().UTC()
			if err := tx.Save(&tr).Error; err != nil {
				return err
			}
			if err := s.appendAuditTx(tx, StreamTransfer, tr.ID, "observed", fmt.Sprintf("from=%s to=%s", prev, StatusProcessing)); err != nil {
				return err
			}
		}
		if !tr.Status.CanTransition(StatusCompleted) {
			return &InvalidTransitionError{Stream: StreamTransfer, From: tr.Status, To: StatusCompleted}
		}
		prev := tr.Status
		tr.Status = StatusCompleted
		applyTransferTxHash(&tr, prev, txHash)
		if receiveAmount != "" {
			tr.ReceiveAmount = receiveAmount
		}
		tr.UpdatedAt = s.now().UTC()
		if err := tx.Save(&tr).Error; err != nil {
			return err
		}
		return s.appendAuditTx(tx, StreamTransfer, tr.ID, "settled", fmt.Sprintf("from=%s to=%s", prev, StatusCompleted))
	})
}

// FailTransfer moves a transfer to FAILED.
func (s *Store) FailTransfer(ctx context.Context, id uuid.UUID, reason string) error {
	return s.transitionTransfer(ctx, id, StatusFailed, "failed: "+reason, func(Status, *Transfer) {})
}

func (s *Store) transitionTransfer(ctx context.Context, id uuid.UUID, next Status, action string, mutate func(Status, *Transfer)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tr Transfer
		if err := tx.First(&tr, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if !tr.Status.CanTransition(next) {
			return &InvalidTransitionError{Stream: StreamTransfer, From: tr.Status, To: next}
		}
		prev := tr.Status
		tr.Status = next
		mutate(prev, &tr)
		tr.UpdatedAt = s.now().UTC()
		if err := tx.Save(&tr).Error; err != nil {
			return err
		}
		return s.appendAuditTx(tx, StreamTransfer, tr.ID, action, fmt.Sprintf("from=%s to=%s", prev, next))
	})
}

// applyTxHash respects the write-once rule: an existing hash may only be
// replaced while the row was still PENDING.
func applyTxHash(p *Payment, prev Status, hash string) {
	if hash == "" {
		return
	}
	if p.TxHash == "" || prev == StatusPending {
		p.TxHash = hash
	}
}

func applyTransferTxHash(tr *Transfer, prev Status, hash string) {
	if hash == "" {
		return
	}
	if tr.TxHash == "" || prev == StatusPending {
		tr.TxHash = hash
	}
}

// ListPayments returns payments created in [since, until), oldest first.
func (s *Store) ListPayments(ctx context.Context, since, until time.Time) ([]Payment, error) {
	var out []Payment
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", since, until).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// ListTransfers returns transfers created in [since, until), oldest first.
func (s *Store) ListTransfers(ctx context.Context, since, until time.Time) ([]Transfer, error) {
	var out []Transfer
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", since, until).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// LoadCursor restores a named ingestion checkpoint. The boolean reports
// whether one was ever saved.
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, bool, error) {
	var cp EventCheckpoint
	err := s.db.WithContext(ctx).First(&cp, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cp.Ledger, true, nil
}

// SaveCursor upserts a named ingestion checkpoint.
func (s *Store) SaveCursor(ctx context.Context, name string, value uint64) error {
	cp := EventCheckpoint{Name: name, Ledger: value, UpdatedAt: s.now().UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"ledger", "updated_at"}),
		}).
		Create(&cp).Error
}

// GetIdempotency loads a stored idempotency record, or ErrNotFound.
func (s *Store) GetIdempotency(ctx context.Context, key string) (*IdempotencyKey, error) {
	var rec IdempotencyKey
	if err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

// SaveIdempotency stores the response snapshot for an idempotency key.
// Inserting an already-stored key fails; callers racing on the same key
// may treat that as benign.
func (s *Store) SaveIdempotency(ctx context.Context, rec *IdempotencyKey) error {
	if rec == nil {
		return errors.New("storage: nil idempotency record")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// AppendAudit records a free-standing audit entry.
func (s *Store) AppendAudit(ctx context.Context, stream string, recordID uuid.UUID, action, details string) error {
	return s.appendAuditTx(s.db.WithContext(ctx), stream, recordID, action, details)
}

func (s *Store) appendAuditTx(tx *gorm.DB, stream string, recordID uuid.UUID, action, details string) error {
	entry := AuditEntry{
		ID:        uuid.New(),
		Stream:    stream,
		RecordID:  recordID,
		Action:    action,
		Details:   details,
		CreatedAt: s.now().UTC(),
	}
	return tx.Create(&entry).Error
}

// ListAudit returns the audit trail for a record, oldest first.
func (s *Store) ListAudit(ctx context.Context, recordID uuid.UUID) ([]AuditEntry, error) {
	var out []AuditEntry
	err := s.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
