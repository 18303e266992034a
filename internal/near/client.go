package near

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// Client is a NEAR JSON-RPC client. The wire protocol is plain JSON-RPC 2.0,
// so the go-ethereum rpc transport is reused as-is.
type Client struct {
	rpc *rpc.Client
}

// RPCError is a JSON-RPC level failure reported by the node.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Data    interface{}
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("near rpc %s: %s (code %d): %v", e.Method, e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("near rpc %s: %s (code %d)", e.Method, e.Message, e.Code)
}

// ExecutionError is returned when a transaction was included but its
// final execution status is a Failure.
type ExecutionError struct {
	TxHash  string
	Failure json.RawMessage
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %s", e.TxHash, string(e.Failure))
}

func Dial(ctx context.Context, url string) (*Client, error) {
	if url == "" {
		return nil, errors.New("rpc url is required")
	}
	cli, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{rpc: cli}, nil
}

func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

type SyncInfo struct {
	LatestBlockHash   string    `json:"latest_block_hash"`
	LatestBlockHeight uint64    `json:"latest_block_height"`
	LatestBlockTime   time.Time `json:"latest_block_time"`
	Syncing           bool      `json:"syncing"`
}

type NodeStatus struct {
	ChainID  string   `json:"chain_id"`
	SyncInfo SyncInfo `json:"sync_info"`
}

// noParams makes the request carry "params": [] instead of omitting the field.
var noParams = []interface{}{}

func (c *Client) Status(ctx context.Context) (*NodeStatus, error) {
	var out NodeStatus
	if err := c.call(ctx, &out, "status", noParams...); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping is used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	if c.rpc == nil {
		return errors.New("rpc client not configured")
	}
	_, err := c.Status(ctx)
	return err
}

type AccessKeyView struct {
	Nonce       uint64          `json:"nonce"`
	Permission  json.RawMessage `json:"permission"`
	BlockHeight uint64          `json:"block_height"`
	BlockHash   string          `json:"block_hash"`
	Error       string          `json:"error,omitempty"`
}

func (c *Client) ViewAccessKey(ctx context.Context, accountID string, key PublicKey) (*AccessKeyView, error) {
	var out AccessKeyView
	path := fmt.Sprintf("access_key/%s/%s", accountID, key.String())
	if err := c.call(ctx, &out, "query", path, ""); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, &RPCError{Method: "query", Message: out.Error}
	}
	if out.BlockHash == "" {
		return nil, &RPCError{Method: "query", Message: "access key view carried no block hash"}
	}
	return &out, nil
}

// BroadcastTxCommit submits a signed transaction and waits for its final outcome.
// The raw outcome is returned untouched; callers parse only what they need.
func (c *Client) BroadcastTxCommit(ctx context.Context, tx *SignedTransaction) (json.RawMessage, error) {
	encoded, err := tx.Base64()
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.call(ctx, &raw, "broadcast_tx_commit", encoded); err != nil {
		return nil, err
	}

	var status struct {
		Status map[string]json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(raw, &status); err == nil {
		if failure, ok := status.Status["Failure"]; ok {
			return raw, &ExecutionError{TxHash: tx.HashString(), Failure: failure}
		}
	}
	return raw, nil
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	err := c.rpc.CallContext(ctx, result, method, args...)
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		out := &RPCError{Method: method, Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) {
			out.Data = dataErr.ErrorData()
		}
		return out
	}
	return fmt.Errorf("near rpc %s: %w", method, err)
}
