package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nearminter/internal/config"
	"nearminter/internal/events"
	"nearminter/internal/hmacauth"
	"nearminter/internal/ledger"
	"nearminter/internal/mint"
	"nearminter/internal/pinning"
	"nearminter/internal/wallet"
)

type stubMinter struct {
	busy    bool
	outcome mint.Outcome
	err     error
	calls   int
	asset   mint.Asset
	feed    *events.Feed[mint.Event]
}

func newStubMinter() *stubMinter {
	return &stubMinter{feed: events.NewFeed[mint.Event]()}
}

func (s *stubMinter) Run(_ context.Context, asset mint.Asset, _, _ string, _ mint.SigningSession) (mint.Outcome, error) {
	s.calls++
	s.asset = asset
	return s.outcome, s.err
}

func (s *stubMinter) Busy() bool { return s.busy }

func (s *stubMinter) Subscribe() (<-chan mint.Event, func()) { return s.feed.Subscribe() }

type stubSession struct {
	state   wallet.State
	account string
	result  json.RawMessage
}

func (s *stubSession) IsConnected() bool   { return s.state == wallet.Connected }
func (s *stubSession) AccountID() string   { return s.account }
func (s *stubSession) State() wallet.State { return s.state }
func (s *stubSession) SignAndSend(context.Context, wallet.Transaction) (json.RawMessage, error) {
	return s.result, nil
}

type stubNode struct{ err error }

func (n stubNode) Ping(context.Context) error { return n.err }

type stubPinner struct{ n int }

func (p *stubPinner) Store(_ context.Context, _ []byte, name string) (pinning.Object, error) {
	p.n++
	cid := "Qm" + name
	return pinning.Object{ContentID: cid, URL: "https://gw.example/ipfs/" + cid}, nil
}

func (p *stubPinner) Release(context.Context, string) {}

func testConfig(secret string) *config.AppConfig {
	return &config.AppConfig{
		Chain: config.ChainConfig{
			NetworkID:  "testnet",
			ContractID: "easy-proxy.testnet",
		},
		Mint: config.MintConfig{
			MintingCost:    "0.2",
			StorageDeposit: "0.01",
		},
		Service: config.ServiceConfig{
			HMACSecret:    secret,
			HMACClockSkew: time.Minute,
		},
	}
}

func alice() *stubSession {
	return &stubSession{
		state:   wallet.Connected,
		account: "alice.testnet",
		result:  json.RawMessage(`{"transaction_outcome":{"id":"abc"}}`),
	}
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{1}, 64)...)

func mintForm(t *testing.T, title, description string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "cat.png")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(pngBytes)
	_ = w.WriteField("title", title)
	_ = w.WriteField("description", description)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes(), w.FormDataContentType()
}

func signedMintRequest(t *testing.T, secret, title, description string) *http.Request {
	t.Helper()
	body, contentType := mintForm(t, title, description)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mints", bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	hmacauth.SignRequest(req, secret, body, time.Now())
	return req
}

func newTestServer(t *testing.T, minter Minter, session WalletSession, store ledger.Store, node HealthChecker) *Server {
	t.Helper()
	srv := NewServer(testConfig("test-secret"), minter, session, store, node, nil)
	t.Cleanup(srv.stopWatch)
	return srv
}

func TestHealthAndContractInfo(t *testing.T) {
	srv := newTestServer(t, newStubMinter(), alice(), ledger.NewMemoryStore(), nil)
	srv.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC) }

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var health healthResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &health)
	if health.Status != "ok" || health.Timestamp != "2024-01-02T03:04:05.006Z" {
		t.Fatalf("unexpected health %+v", health)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/contract/info", nil))
	var info contractInfoResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &info)
	want := contractInfoResponse{ContractID: "easy-proxy.testnet", NetworkID: "testnet", StorageDeposit: "0.01", MintingCost: "0.2"}
	if info != want {
		t.Fatalf("unexpected contract info %+v", info)
	}
}

func TestCreateMintEndToEnd(t *testing.T) {
	pinner := &stubPinner{}
	orch, err := mint.NewOrchestrator(pinner, mint.Contract{
		ReceiverID: "easy-proxy.testnet",
		MethodName: "nft_mint_proxy",
		Gas:        300_000_000_000_000,
		Deposit:    "200000000000000000000000",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer orch.Close()

	store := ledger.NewMemoryStore()
	srv := newTestServer(t, orch, alice(), store, stubNode{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, signedMintRequest(t, "test-secret", "Cat #1", "A cat."))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp mintResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TokenID != "abc" || resp.TransactionHash != "abc" || resp.MediaURL != "https://gw.example/ipfs/Qmcat.png" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if pinner.n != 2 {
		t.Fatalf("expected two uploads, got %d", pinner.n)
	}

	got, _ := store.Get(context.Background(), resp.RunID)
	if got == nil || got.Status != ledger.StatusSucceeded || got.AccountID != "alice.testnet" {
		t.Fatalf("expected receipt in ledger, got %+v", got)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/mints/"+resp.RunID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/mints?limit=5", nil))
	var list []ledger.Record
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 || list[0].RunID != resp.RunID {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestCreateMintDetectsMediaType(t *testing.T) {
	minter := newStubMinter()
	minter.outcome = mint.Outcome{RunID: "r1", TokenID: "t", TransactionHash: "h"}
	srv := newTestServer(t, minter, alice(), ledger.NewMemoryStore(), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, signedMintRequest(t, "test-secret", "Cat #1", "A cat."))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	if minter.asset.MediaType != "image/png" || minter.asset.Name != "cat.png" {
		t.Fatalf("unexpected asset %s %s", minter.asset.Name, minter.asset.MediaType)
	}
}

func TestCreateMintErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
		stored bool
	}{
		{name: "validation", err: &mint.Error{Kind: mint.KindValidation, Err: errors.New("title is required")}, status: http.StatusBadRequest, kind: "validation"},
		{name: "upload", err: &mint.Error{Kind: mint.KindUpload, RunID: "r1", Err: errors.New("401")}, status: http.StatusBadGateway, kind: "upload", stored: true},
		{name: "signing", err: &mint.Error{Kind: mint.KindSigning, RunID: "r1", Cancelled: true, Err: wallet.ErrUserRejected}, status: http.StatusBadGateway, kind: "signing", stored: true},
		{name: "transaction", err: &mint.Error{Kind: mint.KindTransaction, RunID: "r1", Err: errors.New("rpc down")}, status: http.StatusBadGateway, kind: "transaction", stored: true},
		{name: "cancelled", err: &mint.Error{Kind: mint.KindCancelled, RunID: "r1", Err: context.Canceled}, status: statusClientClosedRequest, kind: "cancelled", stored: true},
		{name: "busy", err: mint.ErrRunInProgress, status: http.StatusConflict, kind: "busy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			minter := newStubMinter()
			minter.err = tc.err
			store := ledger.NewMemoryStore()
			srv := newTestServer(t, minter, alice(), store, nil)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, signedMintRequest(t, "test-secret", "Cat #1", "A cat."))
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
			var body errorResponse
			_ = json.Unmarshal(rec.Body.Bytes(), &body)
			if body.Kind != tc.kind || body.Error == "" {
				t.Fatalf("unexpected error body %+v", body)
			}
			rec2, _ := store.Get(context.Background(), "r1")
			if (rec2 != nil) != tc.stored {
				t.Fatalf("expected stored=%v, got %+v", tc.stored, rec2)
			}
		})
	}
}

func TestCreateMintRejectsWhileBusy(t *testing.T) {
	minter := newStubMinter()
	minter.busy = true
	srv := newTestServer(t, minter, alice(), ledger.NewMemoryStore(), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, signedMintRequest(t, "test-secret", "Cat #1", "A cat."))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if minter.calls != 0 {
		t.Fatalf("busy server must not start a run")
	}
}

func TestCreateMintRequiresSignature(t *testing.T) {
	minter := newStubMinter()
	srv := newTestServer(t, minter, alice(), ledger.NewMemoryStore(), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, signedMintRequest(t, "wrong-secret", "Cat #1", "A cat."))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if minter.calls != 0 {
		t.Fatalf("unsigned request must not reach the orchestrator")
	}
}

func TestCreateMintMissingFile(t *testing.T) {
	srv := newTestServer(t, newStubMinter(), alice(), ledger.NewMemoryStore(), nil)

	body := []byte("title=x")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/mints", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hmacauth.SignRequest(req, "test-secret", body, time.Now())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestGetMintNotFoundAndBadLimit(t *testing.T) {
	srv := newTestServer(t, newStubMinter(), alice(), ledger.NewMemoryStore(), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/mints/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/mints?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/mints", nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}
}

func TestDetailedHealth(t *testing.T) {
	cases := []struct {
		name    string
		session *stubSession
		node    HealthChecker
		status  int
	}{
		{name: "healthy", session: alice(), node: stubNode{}, status: http.StatusOK},
		{name: "rpc down", session: alice(), node: stubNode{err: errors.New("dial tcp: refused")}, status: http.StatusServiceUnavailable},
		{name: "wallet disconnected", session: &stubSession{state: wallet.Disconnected}, node: stubNode{}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, newStubMinter(), tc.session, ledger.NewMemoryStore(), tc.node)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestMetricsObserveWorkflow(t *testing.T) {
	minter := newStubMinter()
	srv := newTestServer(t, minter, alice(), ledger.NewMemoryStore(), nil)

	start := time.Unix(1_700_000_000, 0)
	minter.feed.Publish(mint.Event{RunID: "r1", State: mint.Uploading, At: start})
	minter.feed.Publish(mint.Event{RunID: "r1", State: mint.Succeeded, At: start.Add(3 * time.Second)})
	srv.stopWatch()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`nearminter_workflow_transitions_total{state="uploading"} 1`,
		`nearminter_workflow_transitions_total{state="succeeded"} 1`,
		`nearminter_run_duration_seconds_count{result="succeeded"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q\n%s", want, body)
		}
	}
}
