package ledger

import "fmt"

// ValidationError reports malformed caller input. It is never retried and
// surfaces to the caller as-is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// EncodingError reports arguments that cannot be serialized into the
// invocation wire format.
type EncodingError struct {
	Msg string
}

func (e *EncodingError) Error() string { return e.Msg }

func encodingf(format string, args ...any) error {
	return &EncodingError{Msg: fmt.Sprintf(format, args...)}
}
