package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"nearminter/internal/events"
	"nearminter/internal/metadata"
	"nearminter/internal/pinning"
	"nearminter/internal/wallet"
)

const defaultCleanupTimeout = 30 * time.Second

// Orchestrator runs the mint workflow: pin image, pin metadata, sign the mint
// call, report the outcome. At most one run is active at a time.
type Orchestrator struct {
	pinner   Pinner
	contract Contract
	log      hclog.Logger
	feed     *events.Feed[Event]

	now            func() time.Time
	newRunID       func() string
	cleanupTimeout time.Duration

	running atomic.Bool

	mu    sync.RWMutex
	state State
}

type Option func(*Orchestrator)

// WithClock replaces time.Now, used for timestamps and fallback identifiers.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) { o.newRunID = next }
}

func WithCleanupTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.cleanupTimeout = d }
}

func NewOrchestrator(pinner Pinner, contract Contract, log hclog.Logger, opts ...Option) (*Orchestrator, error) {
	if pinner == nil {
		return nil, errors.New("pinner is required")
	}
	if contract.ReceiverID == "" || contract.MethodName == "" {
		return nil, errors.New("contract receiver and method are required")
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	o := &Orchestrator{
		pinner:         pinner,
		contract:       contract,
		log:            log.Named("mint"),
		feed:           events.NewFeed[Event](),
		now:            time.Now,
		newRunID:       uuid.NewString,
		cleanupTimeout: defaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Subscribe delivers every transition published after the call.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	return o.feed.Subscribe()
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Busy reports whether a run currently holds the mint trigger.
func (o *Orchestrator) Busy() bool {
	return o.running.Load()
}

func (o *Orchestrator) Close() {
	o.feed.Close()
}

// Run executes one mint. Validation happens before any network call.
// Cancelling ctx while uploading or awaiting the signature releases whatever
// was pinned and returns the orchestrator to Idle; a provider call that
// ignores ctx is left to finish on its own and its result is discarded.
func (o *Orchestrator) Run(ctx context.Context, asset Asset, title, description string, session SigningSession) (Outcome, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Outcome{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	if err := Validate(asset, title, description, session); err != nil {
		return Outcome{}, err
	}

	r := &run{
		o:       o,
		id:      o.newRunID(),
		account: session.AccountID(),
	}
	r.log = o.log.With("run", r.id, "account", r.account)
	return r.execute(ctx, asset, title, description, session)
}

type run struct {
	o       *Orchestrator
	id      string
	account string
	log     hclog.Logger
	pinned  []pinning.Object
}

func (r *run) execute(ctx context.Context, asset Asset, title, description string, session SigningSession) (Outcome, error) {
	started := r.o.now()
	r.transition(Uploading, nil, nil)

	image, err := r.o.pinner.Store(ctx, asset.Data, asset.Name)
	if err != nil {
		return r.fail(ctx, KindUpload, "store image", err)
	}
	image.CorrelationID = r.id
	r.pinned = append(r.pinned, image)
	if ctx.Err() != nil {
		return r.fail(ctx, KindUpload, "store image", ctx.Err())
	}

	doc, err := metadata.New(title, description, image.URL).Encode()
	if err != nil {
		return r.fail(ctx, KindUpload, "encode metadata", err)
	}
	meta, err := r.o.pinner.Store(ctx, doc, metadata.FileName(r.id))
	if err != nil {
		return r.fail(ctx, KindUpload, "store metadata", err)
	}
	meta.CorrelationID = r.id
	r.pinned = append(r.pinned, meta)
	if ctx.Err() != nil {
		return r.fail(ctx, KindUpload, "store metadata", ctx.Err())
	}

	r.transition(AwaitingSignature, nil, nil)
	req := Request{
		Title:        title,
		Description:  description,
		MediaURL:     image.URL,
		ReferenceURL: meta.URL,
	}
	raw, err := r.sign(ctx, session, r.o.contract.transaction(req))
	if err != nil {
		if wallet.IsCancellation(err) {
			return r.fail(ctx, KindSigning, "sign mint", err)
		}
		return r.fail(ctx, KindTransaction, "sign mint", err)
	}

	r.transition(Confirming, nil, nil)
	parsed := parseResult(raw, r.o.now())
	if parsed.TokenIDSource == SourceGenerated || parsed.HashSource == SourceGenerated {
		r.log.Warn("provider result missing identifiers, using fallbacks",
			"token_id", parsed.TokenID, "token_id_source", parsed.TokenIDSource,
			"hash", parsed.TransactionHash, "hash_source", parsed.HashSource,
			"result", truncate(raw, 512))
	}

	outcome := Outcome{
		RunID:           r.id,
		AccountID:       r.account,
		TokenID:         parsed.TokenID,
		TransactionHash: parsed.TransactionHash,
		TokenIDSource:   parsed.TokenIDSource,
		HashSource:      parsed.HashSource,
		Title:           title,
		Image:           image,
		Metadata:        meta,
		CompletedAt:     r.o.now(),
	}
	r.log.Info("mint succeeded", "token_id", outcome.TokenID, "hash", outcome.TransactionHash,
		"elapsed", outcome.CompletedAt.Sub(started))
	r.transition(Succeeded, &outcome, nil)
	return outcome, nil
}

type signResult struct {
	raw json.RawMessage
	err error
}

// sign waits for the provider or for ctx, whichever comes first. The
// provider goroutine always has room to deliver, so an abandoned call
// finishes without leaking.
func (r *run) sign(ctx context.Context, session SigningSession, tx wallet.Transaction) (json.RawMessage, error) {
	done := make(chan signResult, 1)
	go func() {
		raw, err := session.SignAndSend(ctx, tx)
		done <- signResult{raw: raw, err: err}
	}()

	select {
	case res := <-done:
		return res.raw, res.err
	case <-ctx.Done():
		r.log.Info("stopped waiting for wallet, late result will be discarded")
		return nil, ctx.Err()
	}
}

// fail releases everything pinned so far and publishes the terminal state.
// A cancelled ctx turns any failure into a cancellation that returns to Idle.
func (r *run) fail(ctx context.Context, kind Kind, op string, cause error) (Outcome, error) {
	mintErr := &Error{Kind: kind, RunID: r.id, Op: op, Err: cause}
	switch {
	case ctx.Err() != nil:
		mintErr.Kind = KindCancelled
		mintErr.Cancelled = true
	case kind == KindSigning:
		mintErr.Cancelled = true
	}

	r.cleanup(ctx)

	if mintErr.Kind == KindCancelled {
		r.log.Info("mint cancelled", "op", op, "released", len(r.pinned))
		r.transition(Idle, nil, mintErr)
	} else {
		r.log.Error("mint failed", "kind", mintErr.Kind, "op", op, "err", cause, "released", len(r.pinned))
		r.transition(Failed, nil, mintErr)
	}
	return Outcome{}, mintErr
}

// cleanup releases pinned objects in the order they were created. It runs
// on a context detached from the caller's so a cancelled run still cleans up.
func (r *run) cleanup(ctx context.Context) {
	if len(r.pinned) == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.cleanupTimeout)
	defer cancel()
	for _, obj := range r.pinned {
		r.o.pinner.Release(cleanupCtx, obj.ContentID)
	}
}

func (r *run) transition(state State, outcome *Outcome, err error) {
	r.o.mu.Lock()
	r.o.state = state
	r.o.mu.Unlock()

	r.log.Debug("workflow transition", "state", state)
	r.o.feed.Publish(Event{RunID: r.id, State: state, Outcome: outcome, Err: err, At: r.o.now()})
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return fmt.Sprintf("%s... (%d bytes)", raw[:n], len(raw))
}
