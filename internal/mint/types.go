package mint

import (
	"context"
	"encoding/json"
	"time"

	"nearminter/internal/pinning"
	"nearminter/internal/wallet"
)

const (
	MaxTitleLength       = 32
	MaxDescriptionLength = 256
	MaxAssetSize         = 10 << 20
)

// Asset is the image chosen by the user. It lives in memory until pinned.
type Asset struct {
	Name      string
	MediaType string
	Data      []byte
}

func (a Asset) Size() int { return len(a.Data) }

// Request is the token metadata sent to the contract. It is only built once
// both the image and the metadata document are pinned.
type Request struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	MediaURL     string `json:"media"`
	ReferenceURL string `json:"reference"`
}

// Outcome is the terminal value of a successful run.
type Outcome struct {
	RunID           string         `json:"runId"`
	AccountID       string         `json:"accountId"`
	TokenID         string         `json:"tokenId"`
	TransactionHash string         `json:"transactionHash"`
	TokenIDSource   Source         `json:"tokenIdSource"`
	HashSource      Source         `json:"hashSource"`
	Title           string         `json:"title"`
	Image           pinning.Object `json:"image"`
	Metadata        pinning.Object `json:"metadata"`
	CompletedAt     time.Time      `json:"completedAt"`
}

type State int

const (
	Idle State = iota
	Uploading
	AwaitingSignature
	Confirming
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Uploading:
		return "uploading"
	case AwaitingSignature:
		return "awaiting_signature"
	case Confirming:
		return "confirming"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Active reports whether a run in this state still holds the mint trigger.
func (s State) Active() bool {
	return s == Uploading || s == AwaitingSignature || s == Confirming
}

// Event is published on every workflow transition. Outcome is set for
// Succeeded, Err for Failed and for a cancelled run returning to Idle.
type Event struct {
	RunID   string
	State   State
	Outcome *Outcome
	Err     error
	At      time.Time
}

// Pinner stores blobs in the content-addressed store. Release must swallow
// its own failures.
type Pinner interface {
	Store(ctx context.Context, data []byte, declaredName string) (pinning.Object, error)
	Release(ctx context.Context, contentID string)
}

// SigningSession is the part of a wallet session the orchestrator needs.
type SigningSession interface {
	IsConnected() bool
	AccountID() string
	SignAndSend(ctx context.Context, tx wallet.Transaction) (json.RawMessage, error)
}

// Contract describes the mint call.
type Contract struct {
	ReceiverID string
	MethodName string
	Gas        uint64
	// Deposit in yoctoNEAR.
	Deposit string
}

func (c Contract) transaction(req Request) wallet.Transaction {
	return wallet.Transaction{
		ReceiverID: c.ReceiverID,
		Actions: []wallet.FunctionCallAction{{
			MethodName: c.MethodName,
			Args:       map[string]interface{}{"token_metadata": req},
			Gas:        c.Gas,
			Deposit:    c.Deposit,
		}},
	}
}
