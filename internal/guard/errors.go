package guard

import "fmt"

// UnknownGuardTypeError reports a mask request against a guard type the
// profile store does not know.
type UnknownGuardTypeError struct {
	Name string
}

func (e *UnknownGuardTypeError) Error() string {
	return fmt.Sprintf("unknown guard type: %s", e.Name)
}

// IntegrityError is the transaction-fatal, recoverable verdict of the
// integrity gate: the reviewer lost or invented placeholder tokens. It
// names the offending tokens so the reviewer can act, but never carries
// original values.
type IntegrityError struct {
	Missing []string
	Unknown []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("token integrity check failed: %d missing, %d unknown", len(e.Missing), len(e.Unknown))
}

// UpstreamError wraps a failure of an external collaborator (recognizer
// or language model). The transaction is abandoned and its token map
// discarded; nothing partial is persisted.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
