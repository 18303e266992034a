// Package app assembles the mint stack from resolved configuration. Both
// binaries build through it so they sign, pin and record the same way.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"nearminter/internal/config"
	"nearminter/internal/ledger"
	"nearminter/internal/mint"
	"nearminter/internal/near"
	"nearminter/internal/pinning"
	"nearminter/internal/wallet"
)

// Options carries the pieces that differ between the CLI and the server.
type Options struct {
	Approver wallet.Approver
	Chooser  func(accounts []string) (string, error)
	// CacheName is the file in the state dir holding the last known account.
	CacheName string
}

type Stack struct {
	Node         *near.Client
	Pinner       *pinning.Client
	Session      *wallet.Session
	Orchestrator *mint.Orchestrator
	Ledger       ledger.Store

	closers []func()
}

func Build(ctx context.Context, cfg *config.AppConfig, log hclog.Logger, opts Options) (*Stack, error) {
	s := &Stack{}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	node, err := near.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("near rpc: %w", err)
	}
	s.Node = node
	s.closers = append(s.closers, node.Close)

	pinner, err := pinning.NewClient(pinning.Config{
		APIURL:     cfg.Pinning.APIURL,
		APIKey:     cfg.Pinning.APIKey,
		GatewayURL: cfg.Pinning.GatewayURL,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("pinning client: %w", err)
	}
	s.Pinner = pinner

	provider, err := wallet.NewKeystoreProvider(wallet.KeystoreConfig{
		CredentialsDir: cfg.Chain.CredentialsDir,
		NetworkID:      cfg.Chain.NetworkID,
		AccountID:      cfg.Chain.AccountID,
		StateDir:       cfg.StateDir,
		Chooser:        opts.Chooser,
		Approver:       opts.Approver,
		Node:           node,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("wallet provider: %w", err)
	}
	cacheName := opts.CacheName
	if cacheName == "" {
		cacheName = "account.json"
	}
	s.Session = wallet.NewSession(provider, wallet.NewFileAccountCache(filepath.Join(cfg.StateDir, cacheName)), log)
	s.closers = append(s.closers, func() { _ = s.Session.Close() })
	if err := s.Session.Init(ctx); err != nil {
		return nil, fmt.Errorf("wallet session: %w", err)
	}

	orch, err := mint.NewOrchestrator(pinner, mint.Contract{
		ReceiverID: cfg.Chain.ContractID,
		MethodName: cfg.Mint.MethodName,
		Gas:        cfg.Mint.Gas,
		Deposit:    cfg.Mint.DepositYocto,
	}, log)
	if err != nil {
		return nil, err
	}
	s.Orchestrator = orch
	s.closers = append(s.closers, orch.Close)

	store, err := OpenLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.Ledger = store
	if pg, isPG := store.(*ledger.PostgresStore); isPG {
		s.closers = append(s.closers, pg.Close)
	}

	ok = true
	return s, nil
}

// OpenLedger picks postgres when a DSN is configured, the JSON file otherwise.
func OpenLedger(ctx context.Context, cfg *config.AppConfig) (ledger.Store, error) {
	if cfg.Service.LedgerDSN != "" {
		store, err := ledger.NewPostgresStore(ctx, cfg.Service.LedgerDSN)
		if err != nil {
			return nil, fmt.Errorf("ledger postgres: %w", err)
		}
		return store, nil
	}
	store, err := ledger.NewFileStore(cfg.Service.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("ledger file: %w", err)
	}
	return store, nil
}

// Close releases everything in reverse order of construction.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
