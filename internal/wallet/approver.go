package wallet

import (
	"context"
	"encoding/json"
)

// ApprovalRequest describes a transaction awaiting the user's decision.
type ApprovalRequest struct {
	SignerID   string
	ReceiverID string
	MethodName string
	Args       json.RawMessage
	Gas        uint64
	Deposit    string
}

// Approver asks the key holder to confirm a transaction. It may block for
// as long as the human takes; it returns ErrUserRejected on decline.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) error
}

type ApproverFunc func(ctx context.Context, req ApprovalRequest) error

func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) error {
	return f(ctx, req)
}

// AutoApprove is used where the caller already authorized the mint,
// such as an authenticated backend request.
var AutoApprove = ApproverFunc(func(context.Context, ApprovalRequest) error { return nil })
