package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"nearminter/internal/wallet"
)

// ApprovalPrompt is a pending wallet approval shown to the user.
type ApprovalPrompt struct {
	Request wallet.ApprovalRequest
	reply   chan error
}

func (p ApprovalPrompt) Approve() { p.reply <- nil }
func (p ApprovalPrompt) Reject()  { p.reply <- wallet.ErrUserRejected }

// TerminalApprover hands approval requests to the bubbletea model and
// blocks until the user answers.
type TerminalApprover struct {
	prompts chan ApprovalPrompt
}

func NewTerminalApprover() *TerminalApprover {
	return &TerminalApprover{prompts: make(chan ApprovalPrompt)}
}

func (a *TerminalApprover) Prompts() <-chan ApprovalPrompt {
	return a.prompts
}

func (a *TerminalApprover) Approve(ctx context.Context, req wallet.ApprovalRequest) error {
	p := ApprovalPrompt{Request: req, reply: make(chan error, 1)}
	select {
	case a.prompts <- p:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-p.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LineApprover asks on a plain line-oriented terminal. Anything but y/yes
// is a rejection.
type LineApprover struct {
	In  io.Reader
	Out io.Writer
}

func (a *LineApprover) Approve(ctx context.Context, req wallet.ApprovalRequest) error {
	fmt.Fprintln(a.Out, DescribeApproval(req))
	fmt.Fprint(a.Out, "Approve this transaction? [y/N] ")

	// The reader goroutine outlives a cancelled ctx until a line arrives or In
	// closes. The CLI approves at most once per process, so it is not reused.
	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(a.In).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case got := <-answer:
		if got == "y" || got == "yes" {
			return nil
		}
		return wallet.ErrUserRejected
	}
}

// DescribeApproval renders the transaction the way a wallet would show it.
func DescribeApproval(req wallet.ApprovalRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Signer:   %s\n", req.SignerID)
	fmt.Fprintf(&b, "Contract: %s\n", req.ReceiverID)
	fmt.Fprintf(&b, "Method:   %s\n", req.MethodName)
	fmt.Fprintf(&b, "Deposit:  %s\n", FormatNEAR(req.Deposit))
	fmt.Fprintf(&b, "Gas:      %s\n", FormatGas(req.Gas))
	if len(req.Args) > 0 {
		var pretty strings.Builder
		var v interface{}
		if err := json.Unmarshal(req.Args, &v); err == nil {
			enc := json.NewEncoder(&pretty)
			enc.SetIndent("", "  ")
			_ = enc.Encode(v)
			fmt.Fprintf(&b, "Args:\n%s", pretty.String())
		} else {
			fmt.Fprintf(&b, "Args:     %s\n", string(req.Args))
		}
	}
	return b.String()
}
