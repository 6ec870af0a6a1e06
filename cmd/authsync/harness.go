package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	authsync "github.com/kshay712/cleenbeez-replit-sub000"
	"github.com/kshay712/cleenbeez-replit-sub000/backend/httpclient"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/fakebackend"
	"github.com/kshay712/cleenbeez-replit-sub000/provider/memory"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// harness is one simulated browser profile: a provider session, the
// backend and redis persist across page loads, Clients do not.
type harness struct {
	cfg   authsync.Config
	log   *zap.Logger
	outMu sync.Mutex
	out   io.Writer

	mr       *miniredis.Miniredis
	rdb      *redis.Client
	provider *memory.Provider
	backend  *fakebackend.Server
	srv      *http.Server
	baseURL  string

	mu      sync.Mutex
	clients []*authsync.Client
	last    *authsync.Client
}

const adminKey = "simulate-admin-key"

func newHarness(cfg authsync.Config, log *zap.Logger, out io.Writer) (*harness, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	provider, err := memory.New(memory.Config{Secret: secret, Issuer: "authsync-simulate"})
	if err != nil {
		return nil, err
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("start miniredis: %w", err)
	}

	be := fakebackend.New(fakebackend.Config{
		Verifier:   provider.Credentials(),
		Identities: provider,
		AdminKey:   adminKey,
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		mr.Close()
		return nil, err
	}
	srv := &http.Server{Handler: be.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("fake backend stopped", zap.Error(err))
		}
	}()

	return &harness{
		cfg:      cfg,
		log:      log,
		out:      out,
		mr:       mr,
		rdb:      redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		provider: provider,
		backend:  be,
		srv:      srv,
		baseURL:  "http://" + ln.Addr().String(),
	}, nil
}

// pageLoad builds and starts a fresh Client, as a page load would.
func (h *harness) pageLoad(ctx context.Context) (*authsync.Client, error) {
	be, err := httpclient.New(httpclient.Config{BaseURL: h.baseURL, AdminKey: adminKey})
	if err != nil {
		return nil, err
	}
	c, err := authsync.New().
		WithConfig(h.cfg).
		WithRedis(h.rdb).
		WithIdentityProvider(h.provider).
		WithBackend(be).
		WithNavigator(authsync.NavigatorFunc(func(_ context.Context, path string) error {
			h.printf("  navigate -> %s\n", path)
			return nil
		})).
		WithLogger(h.log).
		Build()
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.clients = append(h.clients, c)
	h.mu.Unlock()

	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	return c, nil
}

func (h *harness) close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = nil
	h.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.srv.Shutdown(ctx)
	_ = h.rdb.Close()
	h.mr.Close()
}

// printf serializes output; navigation also prints from the poller goroutine.
func (h *harness) printf(format string, args ...any) {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	fmt.Fprintf(h.out, format, args...)
}

func (h *harness) snapshot(label string, c *authsync.Client) {
	s := c.Snapshot()
	user := "-"
	if s.User != nil {
		user = fmt.Sprintf("%s <%s> role=%s", s.User.Username, s.User.Email, s.User.Role)
	}
	h.printf("  [%s] state=%s user=%s poller=%s\n", label, s.State, user, c.PollerState())
}
