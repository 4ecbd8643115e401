package sponsor

import "fmt"

// ConfigurationError reports missing or inconsistent relay configuration.
// It is fatal for the request that hit it; no retry helps.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// ErrFeePayerNotConfigured is returned when sponsorship is requested but no
// fee-payer signing key was loaded at startup.
var ErrFeePayerNotConfigured = &ConfigurationError{Msg: "fee payer signing key not configured"}

// SimulationError means the node evaluated the invocation and rejected it.
// The envelope itself is invalid; retrying the same bytes cannot succeed.
type SimulationError struct {
	Msg string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation rejected: %s", e.Msg)
}

// SimulationUnexpectedError means the simulation response was ambiguous or
// undecodable, so the relay cannot tell whether the invocation is valid.
type SimulationUnexpectedError struct {
	Msg string
}

func (e *SimulationUnexpectedError) Error() string {
	return fmt.Sprintf("unexpected simulation response: %s", e.Msg)
}

// TransactionRejectedError means the node refused the envelope at submit
// time. The sequence number may be consumed; the caller must rebuild from
// scratch rather than resubmit.
type TransactionRejectedError struct {
	Hash   string
	Detail string
}

func (e *TransactionRejectedError) Error() string {
	if e.Detail == "" {
		return "transaction rejected at submit"
	}
	return fmt.Sprintf("transaction rejected at submit: %s", e.Detail)
}

// TransactionFailedError means the transaction was included in a ledger and
// failed there. The sequence number is consumed; a retry requires a fresh
// build.
type TransactionFailedError struct {
	Hash   string
	Ledger uint64
	Detail string
}

func (e *TransactionFailedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("transaction %s failed on ledger %d", e.Hash, e.Ledger)
	}
	return fmt.Sprintf("transaction %s failed on ledger %d: %s", e.Hash, e.Ledger, e.Detail)
}

// FinalityTimeoutError means the finality deadline elapsed while the
// transaction was still pending. The transaction may yet settle; callers
// distinguish this from an on-chain failure.
type FinalityTimeoutError struct {
	Hash string
}

func (e *FinalityTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not final before deadline", e.Hash)
}
