package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"nearminter/internal/config"
	"nearminter/internal/hmacauth"
	"nearminter/internal/ledger"
	"nearminter/internal/mint"
	"nearminter/internal/wallet"
)

// Minter is the orchestrator as seen by the HTTP layer.
type Minter interface {
	Run(ctx context.Context, asset mint.Asset, title, description string, session mint.SigningSession) (mint.Outcome, error)
	Busy() bool
	Subscribe() (<-chan mint.Event, func())
}

// WalletSession is the server's own signing session.
type WalletSession interface {
	mint.SigningSession
	State() wallet.State
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg         *config.AppConfig
	minter      Minter
	session     WalletSession
	store       ledger.Store
	hmac        *hmacauth.Verifier
	httpServer  *http.Server
	metrics     *metricsRegistry
	log         hclog.Logger
	now         func() time.Time
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
	stopWatch   func()
}

// NewServer wires the HTTP routes. node may be nil when no RPC health check
// is wanted.
func NewServer(cfg *config.AppConfig, minter Minter, session WalletSession, store ledger.Store, node HealthChecker, log hclog.Logger) *Server {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	log = log.Named("http")

	hmacVerifier := &hmacauth.Verifier{
		Secret:  cfg.Service.HMACSecret,
		MaxSkew: cfg.Service.HMACClockSkew,
		Log:     log,
	}

	metrics := newMetricsRegistry()

	s := &Server{
		cfg:        cfg,
		minter:     minter,
		session:    session,
		store:      store,
		hmac:       hmacVerifier,
		metrics:    metrics,
		log:        log,
		now:        time.Now,
		dbHealthFn: store.Ping,
	}
	if node != nil {
		s.rpcHealthFn = node.Ping
	}
	s.stopWatch = metrics.watchWorkflow(minter)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/contract/info", s.handleContractInfo)
	mux.HandleFunc("GET /api/v1/health", s.handleDetailedHealth)
	mux.Handle("POST /api/v1/mints", s.hmac.Middleware(http.HandlerFunc(s.handleCreateMint)))
	mux.HandleFunc("GET /api/v1/mints", s.handleListMints)
	mux.HandleFunc("GET /api/v1/mints/{id}", s.handleGetMint)
	mux.Handle("GET /api/v1/metrics", metrics.handler())

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(s.accessLog(mux)),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info("API listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.stopWatch()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

type contractInfoResponse struct {
	ContractID     string `json:"contractId"`
	NetworkID      string `json:"networkId"`
	StorageDeposit string `json:"storageDeposit"`
	MintingCost    string `json:"mintingCost"`
}

func (s *Server) handleContractInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, contractInfoResponse{
		ContractID:     s.cfg.Chain.ContractID,
		NetworkID:      s.cfg.Chain.NetworkID,
		StorageDeposit: s.cfg.Mint.StorageDeposit,
		MintingCost:    s.cfg.Mint.MintingCost,
	})
}

type mintResponse struct {
	RunID           string `json:"runId"`
	TokenID         string `json:"tokenId"`
	TransactionHash string `json:"transactionHash"`
	MediaURL        string `json:"mediaUrl"`
	ReferenceURL    string `json:"referenceUrl"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusClientClosedRequest is the de facto code for a client that went away.
const statusClientClosedRequest = 499

func (s *Server) handleCreateMint(w http.ResponseWriter, r *http.Request) {
	if s.minter.Busy() {
		s.metrics.incMint("busy")
		writeError(w, http.StatusConflict, mint.ErrRunInProgress.Error(), "busy")
		return
	}

	asset, title, description, err := readMintForm(r)
	if err != nil {
		s.metrics.incMint("invalid")
		writeError(w, http.StatusBadRequest, err.Error(), string(mint.KindValidation))
		return
	}

	ctx := r.Context()
	outcome, err := s.minter.Run(ctx, asset, title, description, s.session)
	if err != nil {
		s.recordFailure(title, err)
		status, kind, msg := classify(err)
		s.metrics.incMint(kind)
		writeError(w, status, msg, kind)
		return
	}

	if err := s.store.Save(context.WithoutCancel(ctx), ledger.FromOutcome(outcome)); err != nil {
		s.log.Error("failed to record mint receipt", "run", outcome.RunID, "err", err)
	}

	s.metrics.incMint("created")
	writeJSON(w, http.StatusCreated, mintResponse{
		RunID:           outcome.RunID,
		TokenID:         outcome.TokenID,
		TransactionHash: outcome.TransactionHash,
		MediaURL:        outcome.Image.URL,
		ReferenceURL:    outcome.Metadata.URL,
	})
}

func (s *Server) recordFailure(title string, runErr error) {
	rec, ok := ledger.FromFailure(s.session.AccountID(), title, runErr, s.now())
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, rec); err != nil {
		s.log.Error("failed to record mint failure", "run", rec.RunID, "err", err)
	}
}

// classify maps a run error to status, machine-readable kind and message.
func classify(err error) (int, string, string) {
	if errors.Is(err, mint.ErrRunInProgress) {
		return http.StatusConflict, "busy", err.Error()
	}
	var mintErr *mint.Error
	if !errors.As(err, &mintErr) {
		return http.StatusInternalServerError, "internal", err.Error()
	}
	switch mintErr.Kind {
	case mint.KindValidation:
		return http.StatusBadRequest, string(mintErr.Kind), mintErr.Message()
	case mint.KindCancelled:
		return statusClientClosedRequest, string(mintErr.Kind), mintErr.Message()
	default:
		return http.StatusBadGateway, string(mintErr.Kind), mintErr.Message()
	}
}

func readMintForm(r *http.Request) (mint.Asset, string, string, error) {
	if err := r.ParseMultipartForm(mint.MaxAssetSize + 1<<20); err != nil {
		return mint.Asset{}, "", "", fmt.Errorf("invalid multipart form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return mint.Asset{}, "", "", errors.New("file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, mint.MaxAssetSize+1))
	if err != nil {
		return mint.Asset{}, "", "", fmt.Errorf("read file: %w", err)
	}
	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = http.DetectContentType(data)
	}
	asset := mint.Asset{Name: header.Filename, MediaType: mediaType, Data: data}
	return asset, r.FormValue("title"), r.FormValue("description"), nil
}

func (s *Server) handleListMints(w http.ResponseWriter, r *http.Request) {
	limit := ledger.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "validation")
			return
		}
		limit = parsed
	}
	records, err := s.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list mints: "+err.Error(), "internal")
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetMint(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load mint: "+err.Error(), "internal")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "mint not found", "not_found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	walletInfo := struct {
		State     string `json:"state"`
		AccountID string `json:"accountId,omitempty"`
	}{
		State:     s.session.State().String(),
		AccountID: s.session.AccountID(),
	}
	if s.session.State() != wallet.Connected {
		overallHealthy = false
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status  string      `json:"status"`
		RPC     interface{} `json:"rpc"`
		Ledger  interface{} `json:"ledger"`
		Wallet  interface{} `json:"wallet"`
		Minting bool        `json:"minting"`
	}{
		Status:  status,
		RPC:     rpcInfo,
		Ledger:  dbInfo,
		Wallet:  walletInfo,
		Minting: s.minter.Busy(),
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration", time.Since(start), "request_id", r.Header.Get("X-Request-Id"))
	})
}
