package hmacauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	body := `{"title":"Cat #1"}`
	now := time.Unix(1_700_000_000, 0)

	v := &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mints", strings.NewReader(body))
	SignRequest(req, "secret", []byte(body), now)
	rec := httptest.NewRecorder()

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	})

	v.Middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != body {
		t.Fatalf("handler must see the original body, got %q", seen)
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := `{"foo":"bar"}`
	ts := strconv.FormatInt(now.Unix(), 10)
	stale := strconv.FormatInt(now.Add(-2*time.Minute).Unix(), 10)

	cases := []struct {
		name    string
		sig     string
		ts      string
		body    string
		maxBody int64
		status  int
	}{
		{name: "bad signature", sig: "deadbeef", ts: ts, body: body, status: http.StatusUnauthorized},
		{name: "missing signature", ts: ts, body: body, status: http.StatusUnauthorized},
		{name: "missing timestamp", sig: Sign("secret", ts, []byte(body)), body: body, status: http.StatusUnauthorized},
		{name: "stale timestamp", sig: Sign("secret", stale, []byte(body)), ts: stale, body: body, status: http.StatusUnauthorized},
		{name: "body too large", sig: Sign("secret", ts, []byte(body)), ts: ts, body: body, maxBody: 4, status: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := &Verifier{
				Secret:  "secret",
				MaxSkew: time.Minute,
				MaxBody: tc.maxBody,
				Now:     func() time.Time { return now },
			}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/mints", strings.NewReader(tc.body))
			if tc.sig != "" {
				req.Header.Set(DefaultSignatureHeader, tc.sig)
			}
			if tc.ts != "" {
				req.Header.Set(DefaultTimestampHeader, tc.ts)
			}
			rec := httptest.NewRecorder()

			v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			})).ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"kind":"unauthorized"`) {
				t.Fatalf("expected json error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestMiddleware_CustomHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	v := &Verifier{
		Secret:          "secret",
		MaxSkew:         time.Minute,
		SignatureHeader: "X-Sig",
		TimestampHeader: "X-Ts",
		Now:             func() time.Time { return now },
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
	req.Header.Set("X-Sig", Sign("secret", ts, []byte("x")))
	req.Header.Set("X-Ts", ts)
	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestMiddleware_DisabledWithoutSecret(t *testing.T) {
	v := &Verifier{}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}
