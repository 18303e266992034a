package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"nearminter/internal/near"
)

// Node is the subset of the NEAR RPC the keystore provider needs.
type Node interface {
	ViewAccessKey(ctx context.Context, accountID string, key near.PublicKey) (*near.AccessKeyView, error)
	BroadcastTxCommit(ctx context.Context, tx *near.SignedTransaction) (json.RawMessage, error)
}

type KeystoreConfig struct {
	CredentialsDir string
	NetworkID      string
	// AccountID pins sign-in to one account. When empty, Chooser picks among
	// the available credential files.
	AccountID string
	// StateDir holds the provider's own record of the selected account.
	StateDir string
	Chooser  func(accounts []string) (string, error)
	Approver Approver
	Node     Node
}

// KeystoreProvider signs with near-cli style credential files and submits
// transactions through a NEAR RPC node.
type KeystoreProvider struct {
	cfg     KeystoreConfig
	log     hclog.Logger
	watcher *fsnotify.Watcher
	events  chan ProviderEvent

	mu       sync.Mutex
	selected string

	closeOnce sync.Once
	done      chan struct{}
}

type selection struct {
	AccountID string `json:"accountId"`
}

func NewKeystoreProvider(cfg KeystoreConfig, log hclog.Logger) (*KeystoreProvider, error) {
	if cfg.CredentialsDir == "" || cfg.NetworkID == "" {
		return nil, errors.New("credentials dir and network id are required")
	}
	if cfg.StateDir == "" {
		return nil, errors.New("state dir is required")
	}
	if cfg.Node == nil {
		return nil, errors.New("rpc node is required")
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	p := &KeystoreProvider{
		cfg:    cfg,
		log:    log.Named("keystore"),
		events: make(chan ProviderEvent, 8),
		done:   make(chan struct{}),
	}
	if err := p.loadSelection(); err != nil {
		return nil, err
	}
	p.startWatcher()
	return p, nil
}

func (p *KeystoreProvider) networkDir() string {
	return filepath.Join(p.cfg.CredentialsDir, p.cfg.NetworkID)
}

func (p *KeystoreProvider) selectionPath() string {
	return filepath.Join(p.cfg.StateDir, "keystore-selection-"+p.cfg.NetworkID+".json")
}

func (p *KeystoreProvider) keyPath(accountID string) string {
	return near.CredentialsPath(p.cfg.CredentialsDir, p.cfg.NetworkID, accountID)
}

func (p *KeystoreProvider) Accounts(_ context.Context) ([]string, error) {
	p.mu.Lock()
	selected := p.selected
	p.mu.Unlock()

	if selected == "" {
		return nil, nil
	}
	if _, err := os.Stat(p.keyPath(selected)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.log.Info("selected key is gone, forgetting selection", "account", selected)
			if err := p.storeSelection(""); err != nil {
				p.log.Warn("failed to clear keystore selection", "err", err)
			}
		}
		return nil, nil
	}
	return []string{selected}, nil
}

func (p *KeystoreProvider) SignIn(_ context.Context) ([]string, error) {
	account := p.cfg.AccountID
	if account == "" {
		available, err := near.ListAccounts(p.cfg.CredentialsDir, p.cfg.NetworkID)
		if err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		switch {
		case len(available) == 0:
			return nil, fmt.Errorf("%w in %s", ErrNoCredentials, p.networkDir())
		case len(available) == 1:
			account = available[0]
		case p.cfg.Chooser != nil:
			account, err = p.cfg.Chooser(available)
			if err != nil {
				return nil, fmt.Errorf("choose account: %w", err)
			}
		default:
			return nil, fmt.Errorf("%d accounts available for %s; set an account id", len(available), p.cfg.NetworkID)
		}
	}

	if _, err := near.LoadKeyPair(p.keyPath(account)); err != nil {
		return nil, fmt.Errorf("load key for %s: %w", account, err)
	}
	if err := p.storeSelection(account); err != nil {
		return nil, err
	}
	p.log.Info("signed in", "account", account)
	return []string{account}, nil
}

func (p *KeystoreProvider) SignOut(_ context.Context) error {
	if err := p.storeSelection(""); err != nil {
		return err
	}
	p.log.Info("signed out")
	return nil
}

func (p *KeystoreProvider) SignAndSendTransaction(ctx context.Context, signerID string, tx Transaction) (json.RawMessage, error) {
	if len(tx.Actions) == 0 {
		return nil, errors.New("transaction has no actions")
	}
	kp, err := near.LoadKeyPair(p.keyPath(signerID))
	if err != nil {
		return nil, fmt.Errorf("load key for %s: %w", signerID, err)
	}

	actions := make([]near.FunctionCall, 0, len(tx.Actions))
	for _, a := range tx.Actions {
		args, err := json.Marshal(a.Args)
		if err != nil {
			return nil, fmt.Errorf("encode %s args: %w", a.MethodName, err)
		}
		deposit, ok := new(big.Int).SetString(a.Deposit, 10)
		if !ok {
			return nil, fmt.Errorf("invalid deposit %q", a.Deposit)
		}
		if p.cfg.Approver == nil {
			return nil, errors.New("no approver configured")
		}
		if err := p.cfg.Approver.Approve(ctx, ApprovalRequest{
			SignerID:   signerID,
			ReceiverID: tx.ReceiverID,
			MethodName: a.MethodName,
			Args:       args,
			Gas:        a.Gas,
			Deposit:    a.Deposit,
		}); err != nil {
			return nil, err
		}
		actions = append(actions, near.FunctionCall{MethodName: a.MethodName, Args: args, Gas: a.Gas, Deposit: deposit})
	}

	view, err := p.cfg.Node.ViewAccessKey(ctx, signerID, kp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("fetch access key: %w", err)
	}
	blockHash, err := near.DecodeBlockHash(view.BlockHash)
	if err != nil {
		return nil, err
	}

	signed, err := near.Transaction{
		SignerID:   signerID,
		PublicKey:  kp.PublicKey,
		Nonce:      view.Nonce + 1,
		ReceiverID: tx.ReceiverID,
		BlockHash:  blockHash,
		Actions:    actions,
	}.Sign(kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	p.log.Info("broadcasting transaction", "hash", signed.HashString(), "signer", signerID, "receiver", tx.ReceiverID)
	return p.cfg.Node.BroadcastTxCommit(ctx, signed)
}

func (p *KeystoreProvider) Events() <-chan ProviderEvent {
	return p.events
}

func (p *KeystoreProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if p.watcher != nil {
			err = p.watcher.Close()
		}
	})
	return err
}

func (p *KeystoreProvider) loadSelection() error {
	blob, err := os.ReadFile(p.selectionPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read keystore selection: %w", err)
	}
	var sel selection
	if err := json.Unmarshal(blob, &sel); err != nil {
		p.log.Warn("ignoring corrupt keystore selection", "err", err)
		return nil
	}
	p.mu.Lock()
	p.selected = sel.AccountID
	p.mu.Unlock()
	return nil
}

func (p *KeystoreProvider) storeSelection(account string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if account == "" {
		if err := os.Remove(p.selectionPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clear keystore selection: %w", err)
		}
		p.selected = ""
		return nil
	}
	if err := os.MkdirAll(p.cfg.StateDir, 0o700); err != nil {
		return err
	}
	blob, err := json.Marshal(selection{AccountID: account})
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.selectionPath(), blob, 0o600); err != nil {
		return fmt.Errorf("write keystore selection: %w", err)
	}
	p.selected = account
	return nil
}

// startWatcher reports key files of the selected account appearing or
// disappearing as provider-side sign-in and sign-out.
func (p *KeystoreProvider) startWatcher() {
	if err := os.MkdirAll(p.networkDir(), 0o700); err != nil {
		p.log.Warn("cannot create credentials dir, provider events disabled", "err", err)
		return
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		p.log.Warn("file watcher unavailable, provider events disabled", "err", err)
		return
	}
	if err := w.Add(p.networkDir()); err != nil {
		p.log.Warn("cannot watch credentials dir, provider events disabled", "err", err)
		_ = w.Close()
		return
	}
	p.watcher = w
	go p.watch()
}

func (p *KeystoreProvider) watch() {
	for {
		select {
		case <-p.done:
			return
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn("credentials watcher error", "err", err)
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			p.handleFileEvent(ev)
		}
	}
}

func (p *KeystoreProvider) handleFileEvent(ev fsnotify.Event) {
	p.mu.Lock()
	selected := p.selected
	p.mu.Unlock()
	if selected == "" || filepath.Clean(ev.Name) != filepath.Clean(p.keyPath(selected)) {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		p.emit(ProviderEvent{Kind: ProviderSignedOut})
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if _, err := near.LoadKeyPair(ev.Name); err != nil {
			p.log.Debug("key file changed but not loadable yet", "path", ev.Name, "err", err)
			return
		}
		p.emit(ProviderEvent{Kind: ProviderSignedIn, Accounts: []string{selected}})
	}
}

func (p *KeystoreProvider) emit(ev ProviderEvent) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn("dropping provider event, listener is not keeping up")
	}
}
