package pinning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	shell "github.com/ipfs/go-ipfs-api"
)

// Object is a pinned blob. It is immutable once returned by Store.
type Object struct {
	ContentID     string `json:"contentId"`
	URL           string `json:"url"`
	CorrelationID string `json:"correlationId"`
	Name          string `json:"name"`
	Size          string `json:"size"`
}

// StorageError carries the upstream status and message of a failed pinning call.
// Status is the HTTP status code; Code is the IPFS RPC error code from the
// response body, which most hosted services leave at 0.
type StorageError struct {
	Op      string
	Name    string
	Status  int
	Code    int
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	var detail []string
	if e.Status != 0 {
		detail = append(detail, fmt.Sprintf("status %d", e.Status))
	}
	if e.Code != 0 {
		detail = append(detail, fmt.Sprintf("code %d", e.Code))
	}
	if len(detail) > 0 {
		return fmt.Sprintf("pinning %s %q failed (%s): %s", e.Op, e.Name, strings.Join(detail, ", "), msg)
	}
	return fmt.Sprintf("pinning %s %q failed: %s", e.Op, e.Name, msg)
}

func (e *StorageError) Unwrap() error { return e.Err }

type Config struct {
	APIURL     string
	APIKey     string
	GatewayURL string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to an IPFS RPC compatible pinning service (Filebase by default).
type Client struct {
	sh      *shell.Shell
	apiKey  string
	gateway string
	log     hclog.Logger
}

func NewClient(cfg Config, log hclog.Logger) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("pinning api url is required")
	}
	if cfg.GatewayURL == "" {
		return nil, errors.New("gateway url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	// go-ipfs-api drops the HTTP status of failed calls, so the transport
	// records it for the request's context.
	recording := *httpClient
	recording.Transport = statusRecorder{base: httpClient.Transport}
	return &Client{
		sh:      shell.NewShellWithClient(strings.TrimRight(cfg.APIURL, "/"), &recording),
		apiKey:  cfg.APIKey,
		gateway: strings.TrimRight(cfg.GatewayURL, "/"),
		log:     log.Named("pinning"),
	}, nil
}

type addResponse struct {
	Name string
	Hash string
	Size string
}

// Store uploads data under declaredName and pins it.
func (c *Client) Store(ctx context.Context, data []byte, declaredName string) (Object, error) {
	body, contentType, err := multipartBody(data, declaredName)
	if err != nil {
		return Object{}, &StorageError{Op: "add", Name: declaredName, Err: err}
	}

	var status int
	var out addResponse
	err = c.request("add").
		Option("pin", true).
		Header("Content-Type", contentType).
		Body(body).
		Exec(withStatus(ctx, &status), &out)
	if err != nil {
		return Object{}, toStorageError("add", declaredName, status, err)
	}
	if out.Hash == "" {
		return Object{}, &StorageError{Op: "add", Name: declaredName, Message: "response carried no content hash"}
	}

	obj := Object{
		ContentID: out.Hash,
		URL:       c.URL(out.Hash),
		Name:      out.Name,
		Size:      out.Size,
	}
	c.log.Info("stored object", "name", out.Name, "cid", obj.ContentID, "url", obj.URL)
	return obj, nil
}

// Release removes a previously stored object. It never fails from the caller's
// point of view: errors are logged and dropped.
func (c *Client) Release(ctx context.Context, contentID string) {
	if contentID == "" {
		c.log.Warn("release skipped: empty content id")
		return
	}
	var status int
	if err := c.request("rm", contentID).Exec(withStatus(ctx, &status), nil); err != nil {
		c.log.Error("failed to release object", "cid", contentID, "status", status, "err", toStorageError("rm", contentID, status, err))
		return
	}
	c.log.Info("released object", "cid", contentID)
}

// URL is the gateway address of a content id.
func (c *Client) URL(contentID string) string {
	return c.gateway + "/" + contentID
}

func (c *Client) request(command string, args ...string) *shell.RequestBuilder {
	rb := c.sh.Request(command, args...)
	if c.apiKey != "" {
		rb = rb.Header("Authorization", "Bearer "+c.apiKey)
	}
	return rb
}

func multipartBody(data []byte, name string) (*bytes.Buffer, string, error) {
	if name == "" {
		name = "file"
	}
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func toStorageError(op, name string, status int, err error) *StorageError {
	var shErr *shell.Error
	if errors.As(err, &shErr) {
		msg := strings.TrimSpace(shErr.Message)
		if status == http.StatusNotFound || msg == "" {
			// the shell replaces 404 bodies with its own text
			msg = http.StatusText(status)
		}
		return &StorageError{Op: op, Name: name, Status: status, Code: shErr.Code, Message: msg, Err: err}
	}
	return &StorageError{Op: op, Name: name, Status: status, Err: err}
}

type statusKey struct{}

func withStatus(ctx context.Context, status *int) context.Context {
	return context.WithValue(ctx, statusKey{}, status)
}

type statusRecorder struct {
	base http.RoundTripper
}

func (t statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err == nil {
		if status, ok := req.Context().Value(statusKey{}).(*int); ok {
			*status = resp.StatusCode
		}
	}
	return resp, err
}
