package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotConnected  = errors.New("wallet not connected")
	ErrUserRejected  = errors.New("transaction was cancelled by user")
	ErrNoCredentials = errors.New("no credentials available for sign-in")
)

// State is the connection state of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Event is published on every connection state change.
type Event struct {
	State     State
	AccountID string
	Err       error
	At        time.Time
}

// FunctionCallAction invokes a contract method. Args must be JSON-encodable.
type FunctionCallAction struct {
	MethodName string
	Args       interface{}
	Gas        uint64
	// Deposit in the network's smallest unit (yoctoNEAR), as a decimal string.
	Deposit string
}

// Transaction is what a provider is asked to sign and submit.
type Transaction struct {
	ReceiverID string
	Actions    []FunctionCallAction
}

type ProviderEventKind int

const (
	ProviderSignedIn ProviderEventKind = iota
	ProviderSignedOut
)

// ProviderEvent is a connection change initiated on the provider's side.
type ProviderEvent struct {
	Kind     ProviderEventKind
	Accounts []string
}

// Provider is the wallet backend that holds key material.
type Provider interface {
	// Accounts lists the currently signed-in accounts, if any.
	Accounts(ctx context.Context) ([]string, error)
	SignIn(ctx context.Context) ([]string, error)
	SignOut(ctx context.Context) error
	SignAndSendTransaction(ctx context.Context, signerID string, tx Transaction) (json.RawMessage, error)
	Events() <-chan ProviderEvent
	Close() error
}

// IsCancellation reports whether err means the user declined the request.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "User rejected") ||
		strings.Contains(msg, "cancelled") ||
		strings.Contains(msg, "User cancelled")
}
