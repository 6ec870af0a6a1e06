package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	authsync "github.com/kshay712/cleenbeez-replit-sub000"
)

const (
	pathLookup        = "/api/users/me"
	pathRegister      = "/api/auth/register"
	pathUpsert        = "/api/auth/oauth"
	pathCleanup       = "/api/auth/cleanup-identity"
	pathAdminCleanup  = "/api/admin/cleanup-identity"
	pathEmailVerified = "/api/auth/email-verified"
	pathLogout        = "/api/auth/logout"

	maxBody = 1 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL string
	// AdminKey is sent as X-Admin-Key on privileged cleanup.
	AdminKey string
	Timeout  time.Duration
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is the REST backend client.
type Client struct {
	base     string
	adminKey string
	http     *http.Client
}

// New returns a Client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("httpclient: base url is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, adminKey: cfg.AdminKey, http: hc}, nil
}

func (c *Client) LookupUser(ctx context.Context, credential string) (*authsync.LocalUser, error) {
	var u authsync.LocalUser
	if err := c.do(ctx, "lookup", http.MethodGet, pathLookup, credential, nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) RegisterUser(ctx context.Context, credential string, req authsync.BackendRegisterRequest) (*authsync.LocalUser, error) {
	var u authsync.LocalUser
	if err := c.do(ctx, "register", http.MethodPost, pathRegister, credential, nil, req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) UpsertOAuthUser(ctx context.Context, req authsync.UpsertRequest) (*authsync.LocalUser, error) {
	var u authsync.LocalUser
	if err := c.do(ctx, "upsert", http.MethodPost, pathUpsert, "", nil, req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) CleanupExternalIdentity(ctx context.Context, email string, privileged bool) (authsync.CleanupResult, error) {
	path := pathCleanup
	var header http.Header
	if privileged {
		path = pathAdminCleanup
		header = http.Header{"X-Admin-Key": []string{c.adminKey}}
	}
	var out authsync.CleanupResult
	err := c.do(ctx, "cleanup", http.MethodPost, path, "", header, map[string]string{"email": email}, &out)
	return out, err
}

func (c *Client) NotifyEmailVerified(ctx context.Context, credential string) error {
	return c.do(ctx, "email-verified", http.MethodPost, pathEmailVerified, credential, nil, nil, nil)
}

func (c *Client) SignOutServerSession(ctx context.Context) error {
	return c.do(ctx, "logout", http.MethodPost, pathLogout, "", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path, bearer string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("httpclient %s: encode: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("httpclient %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &authsync.BackendError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &authsync.BackendError{Op: op, Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return &authsync.BackendError{Op: op, Status: http.StatusBadGateway, Message: "decode response: " + err.Error()}
	}
	return nil
}

func errorMessage(r io.Reader) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

var _ authsync.Backend = (*Client)(nil)
