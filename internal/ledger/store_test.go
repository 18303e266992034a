package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nearminter/internal/mint"
	"nearminter/internal/pinning"
)

func receipt(runID string, at time.Time) Record {
	return Record{
		RunID:           runID,
		Status:          StatusSucceeded,
		AccountID:       "alice.testnet",
		Title:           "Cat #1",
		TokenID:         "abc",
		TransactionHash: "abc",
		CreatedAt:       at,
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if rec, _ := store.Get(ctx, "missing"); rec != nil {
		t.Fatalf("expected nil for missing run")
	}
	if err := store.Save(ctx, Record{}); err == nil {
		t.Fatalf("expected error for record without run id")
	}

	base := time.Unix(1_700_000_000, 0)
	for i, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, receipt(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	got, _ := store.Get(ctx, "b")
	if got == nil || got.TokenID != "abc" {
		t.Fatalf("unexpected record: %+v", got)
	}

	list, _ := store.List(ctx, 2)
	if len(list) != 2 || list[0].RunID != "c" || list[1].RunID != "b" {
		t.Fatalf("expected newest first, got %+v", list)
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "ledger.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping before first write: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, receipt("run-1", time.Unix(0, 0).UTC())); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	store2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}

	got, _ := store2.Get(ctx, "run-1")
	if got == nil || got.TransactionHash != "abc" {
		t.Fatalf("unexpected record: %+v", got)
	}
	list, _ := store2.List(ctx, 0)
	if len(list) != 1 {
		t.Fatalf("expected one record, got %d", len(list))
	}
}

func TestFromOutcome(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	rec := FromOutcome(mint.Outcome{
		RunID:           "run-1",
		AccountID:       "alice.testnet",
		TokenID:         "abc",
		TransactionHash: "abc",
		Title:           "Cat #1",
		Image:           pinning.Object{URL: "https://gw/ipfs/img"},
		Metadata:        pinning.Object{URL: "https://gw/ipfs/meta"},
		CompletedAt:     at,
	})
	if rec.Status != StatusSucceeded || rec.MediaURL != "https://gw/ipfs/img" || rec.ReferenceURL != "https://gw/ipfs/meta" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.CreatedAt.Equal(at) {
		t.Fatalf("expected completion time, got %v", rec.CreatedAt)
	}
}

func TestFromFailure(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name   string
		err    error
		ok     bool
		status Status
	}{
		{name: "upload", err: &mint.Error{Kind: mint.KindUpload, RunID: "r", Err: errors.New("boom")}, ok: true, status: StatusFailed},
		{name: "cancelled", err: &mint.Error{Kind: mint.KindCancelled, RunID: "r", Cancelled: true, Err: context.Canceled}, ok: true, status: StatusCancelled},
		{name: "validation never ran", err: &mint.Error{Kind: mint.KindValidation, Err: errors.New("title is required")}},
		{name: "busy", err: mint.ErrRunInProgress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, ok := FromFailure("alice.testnet", "Cat #1", tc.err, now)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v", tc.ok)
			}
			if ok && (rec.Status != tc.status || rec.Error == "") {
				t.Fatalf("unexpected record %+v", rec)
			}
		})
	}
}
