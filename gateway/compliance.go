package gateway

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// ComplianceError reports a payer or counterparty the relay refuses to
// build transactions for.
type ComplianceError struct {
	Reason string
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("compliance check failed: %s", e.Reason)
}

// ComplianceChecker is consulted before any envelope is built. The
// sponsorship core itself assumes the check already passed.
type ComplianceChecker interface {
	CheckPayment(ctx context.Context, payer, counterparty string, amount *big.Int) error
}

// Denylist is the default checker: a static set of blocked addresses and
// merchant identifiers. Entries can be added at runtime but never removed;
// unblocking is an operator decision that warrants a restart.
type Denylist struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
}

func NewDenylist(entries ...string) *Denylist {
	d := &Denylist{blocked: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		d.Block(entry)
	}
	return d
}

// Block adds an address or merchant identifier to the denylist.
func (d *Denylist) Block(entry string) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return
	}
	d.mu.Lock()
	d.blocked[entry] = struct{}{}
	d.mu.Unlock()
}

// CheckPayment implements ComplianceChecker.
func (d *Denylist) CheckPayment(ctx context.Context, payer, counterparty string, amount *big.Int) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.blocked[strings.TrimSpace(payer)]; ok {
		return &ComplianceError{Reason: "payer is blocked"}
	}
	if _, ok := d.blocked[strings.TrimSpace(counterparty)]; ok {
		return &ComplianceError{Reason: "counterparty is blocked"}
	}
	return nil
}
