package mint

import (
	"errors"
	"fmt"
)

var ErrRunInProgress = errors.New("a mint is already in progress")

type Kind string

const (
	KindValidation  Kind = "validation"
	KindUpload      Kind = "upload"
	KindSigning     Kind = "signing"
	KindTransaction Kind = "transaction"
	KindCancelled   Kind = "cancelled"
)

// Error is returned by Run for every failure. Kind is machine readable,
// Message is what the user sees.
type Error struct {
	Kind  Kind
	RunID string
	Op    string
	// Cancelled is set when the user declined in the wallet or aborted the run.
	Cancelled bool
	Err       error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("mint %s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("mint %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Message() string {
	switch e.Kind {
	case KindValidation:
		return e.Err.Error()
	case KindUpload:
		return "Failed to upload to IPFS: " + e.Err.Error()
	case KindSigning:
		if e.Cancelled {
			return "Transaction was cancelled by user"
		}
		return "The wallet declined to sign the transaction: " + e.Err.Error()
	case KindCancelled:
		return "Minting was cancelled"
	default:
		return "Failed to mint NFT: " + e.Err.Error()
	}
}

// KindOf returns the kind of a mint error, or "" for anything else.
func KindOf(err error) Kind {
	var mintErr *Error
	if errors.As(err, &mintErr) {
		return mintErr.Kind
	}
	return ""
}

func validationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}
