package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"nearminter/internal/events"
)

// Session owns the connection to one wallet provider. It is passed explicitly
// to whoever needs to sign; state changes are delivered through Subscribe.
type Session struct {
	provider Provider
	cache    AccountCache
	log      hclog.Logger
	feed     *events.Feed[Event]
	now      func() time.Time

	mu      sync.RWMutex
	state   State
	account string
	// attempt is bumped by every Connect and Disconnect; a sign-in that
	// finishes under an older attempt is dropped.
	attempt uint64

	loopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func NewSession(provider Provider, cache AccountCache, log hclog.Logger) *Session {
	if cache == nil {
		cache = &MemoryAccountCache{}
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Session{
		provider: provider,
		cache:    cache,
		log:      log.Named("wallet"),
		feed:     events.NewFeed[Event](),
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Init reconciles the provider's view with the cached last known account and
// starts listening for provider-side connection changes.
func (s *Session) Init(ctx context.Context) error {
	defer s.loopOnce.Do(func() { go s.watchProvider() })

	accounts, err := s.provider.Accounts(ctx)
	if err != nil {
		s.log.Info("no wallet connected on init", "err", err)
		s.clearCache()
		s.setState(Disconnected, "", nil)
		return nil
	}
	if len(accounts) == 0 {
		s.log.Debug("wallet selected but no accounts found on init")
		s.clearCache()
		s.setState(Disconnected, "", nil)
		return nil
	}

	account := accounts[0]
	cached, err := s.cache.Load()
	if err != nil {
		s.log.Warn("failed to read account cache", "err", err)
	}
	if cached != account {
		if cached != "" {
			s.log.Info("discarding stale cached account", "cached", cached, "provider", account)
		}
		if err := s.cache.Store(account); err != nil {
			return fmt.Errorf("store account cache: %w", err)
		}
	}
	s.log.Info("wallet already connected", "account", account)
	s.setState(Connected, account, nil)
	return nil
}

// Connect starts the provider's sign-in flow and returns immediately.
// Completion is signalled by a Connected or Disconnected event.
func (s *Session) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return
	}
	s.state = Connecting
	s.account = ""
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()
	s.feed.Publish(Event{State: Connecting, At: s.now()})

	go func() {
		accounts, err := s.provider.SignIn(ctx)
		if err == nil && len(accounts) == 0 {
			err = ErrNoCredentials
		}
		if !s.finishConnect(attempt, accounts, err) {
			s.log.Info("dropping sign-in result, connect was abandoned", "accounts", accounts, "err", err)
			if err == nil {
				if signOutErr := s.provider.SignOut(context.WithoutCancel(ctx)); signOutErr != nil {
					s.log.Warn("sign-out after abandoned connect failed", "err", signOutErr)
				}
			}
		}
	}()
}

// finishConnect applies a sign-in result unless a later Connect or Disconnect
// superseded it. The attempt check, cache write and state change share one
// critical section with Disconnect's attempt bump.
func (s *Session) finishConnect(attempt uint64, accounts []string, err error) bool {
	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		return false
	}
	if err != nil {
		s.log.Error("wallet sign-in failed", "err", err)
		if cacheErr := s.cache.Clear(); cacheErr != nil {
			s.log.Warn("failed to clear account cache", "err", cacheErr)
		}
		s.state, s.account = Disconnected, ""
	} else {
		if cacheErr := s.cache.Store(accounts[0]); cacheErr != nil {
			s.log.Warn("failed to store account cache", "err", cacheErr)
		}
		s.state, s.account = Connected, accounts[0]
	}
	ev := Event{State: s.state, AccountID: s.account, Err: err, At: s.now()}
	s.mu.Unlock()

	s.feed.Publish(ev)
	return true
}

// ConnectAndWait is Connect followed by waiting for the outcome.
func (s *Session) ConnectAndWait(ctx context.Context) (string, error) {
	if s.IsConnected() {
		return s.AccountID(), nil
	}
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.Connect(ctx)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return "", ErrNotConnected
			}
			switch ev.State {
			case Connected:
				return ev.AccountID, nil
			case Disconnected:
				if ev.Err != nil {
					return "", ev.Err
				}
				return "", ErrNotConnected
			}
		}
	}
}

// Disconnect signs out with the provider. Local state and the cache are reset
// even when the provider call fails.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.attempt++
	connected := s.state == Connected
	s.mu.Unlock()

	defer func() {
		s.clearCache()
		s.setState(Disconnected, "", nil)
	}()

	if !connected {
		s.log.Warn("disconnect requested but no wallet was connected")
		return nil
	}
	if err := s.provider.SignOut(ctx); err != nil {
		s.log.Error("provider sign-out failed, resetting locally", "err", err)
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == Connected
}

func (s *Session) AccountID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.feed.Subscribe()
}

// SignAndSend asks the provider to sign and submit tx as the connected account.
// It may block until the user acts in the provider's own UI.
func (s *Session) SignAndSend(ctx context.Context, tx Transaction) (json.RawMessage, error) {
	s.mu.RLock()
	state, account := s.state, s.account
	s.mu.RUnlock()
	if state != Connected || account == "" {
		return nil, ErrNotConnected
	}
	s.log.Debug("sending transaction", "signer", account, "receiver", tx.ReceiverID)
	return s.provider.SignAndSendTransaction(ctx, account, tx)
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.provider.Close()
		s.feed.Close()
	})
	return err
}

func (s *Session) watchProvider() {
	provEvents := s.provider.Events()
	if provEvents == nil {
		return
	}
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-provEvents:
			if !ok {
				return
			}
			switch ev.Kind {
			case ProviderSignedIn:
				s.log.Info("wallet signed in (provider event)", "accounts", ev.Accounts)
				s.applySignedIn(ev.Accounts)
			case ProviderSignedOut:
				s.log.Info("wallet signed out (provider event)")
				s.clearCache()
				s.setState(Disconnected, "", nil)
			}
		}
	}
}

func (s *Session) applySignedIn(accounts []string) {
	if len(accounts) == 0 {
		return
	}
	account := accounts[0]
	if err := s.cache.Store(account); err != nil {
		s.log.Warn("failed to store account cache", "err", err)
	}
	s.setState(Connected, account, nil)
}

func (s *Session) clearCache() {
	if err := s.cache.Clear(); err != nil {
		s.log.Warn("failed to clear account cache", "err", err)
	}
}

func (s *Session) setState(state State, account string, err error) {
	s.mu.Lock()
	changed := s.state != state || s.account != account
	s.state = state
	s.account = account
	s.mu.Unlock()

	if !changed && err == nil {
		return
	}
	s.feed.Publish(Event{State: state, AccountID: account, Err: err, At: s.now()})
}
