package fakebackend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/kshay712/cleenbeez-replit-sub000/credential"
)

// Route names an endpoint for failure injection and call counting.
type Route string

const (
	RouteLookup        Route = "lookup"
	RouteRegister      Route = "register"
	RouteUpsert        Route = "upsert"
	RouteCleanup       Route = "cleanup"
	RouteAdminCleanup  Route = "admin_cleanup"
	RouteEmailVerified Route = "email_verified"
	RouteLogout        Route = "logout"
)

// IdentityAdmin deletes provider identities on behalf of the backend.
type IdentityAdmin interface {
	DeleteByEmail(ctx context.Context, email string) (uid string, ok bool, err error)
}

// User is the stored local user.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	ExternalUID string `json:"external_uid"`
}

// Config configures a Server.
type Config struct {
	// Verifier checks bearer credentials. Required.
	Verifier *credential.Manager
	// Identities receives cleanup deletes. Optional.
	Identities IdentityAdmin
	// AdminKey guards the privileged cleanup endpoint. Empty disables it.
	AdminKey string
	// Admins lists emails that get the admin role on creation.
	Admins []string
	// RequireRegistration makes OAuth upserts answer 422.
	RequireRegistration bool
}

// Server is the fake backend.
type Server struct {
	cfg Config

	mu       sync.Mutex
	users    map[string]*User
	byUID    map[string]string
	byEmail  map[string]string
	verified map[string]bool
	failures map[Route][]int
	calls    map[Route]int
}

// New returns an empty Server.
func New(cfg Config) *Server {
	return &Server{
		cfg:      cfg,
		users:    map[string]*User{},
		byUID:    map[string]string{},
		byEmail:  map[string]string{},
		verified: map[string]bool{},
		failures: map[Route][]int{},
		calls:    map[Route]int{},
	}
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/users/me", s.lookup)
		r.Post("/auth/register", s.register)
		r.Post("/auth/oauth", s.upsert)
		r.Post("/auth/cleanup-identity", s.cleanup)
		r.Post("/auth/email-verified", s.emailVerified)
		r.Post("/auth/logout", s.logout)
		r.Post("/admin/cleanup-identity", s.adminCleanup)
	})
	return r
}

/* ==== TEST CONTROLS ==== */

// FailNext makes the next request to route answer status.
func (s *Server) FailNext(route Route, status int) {
	s.mu.Lock()
	s.failures[route] = append(s.failures[route], status)
	s.mu.Unlock()
}

// SetRequireRegistration toggles 422 answers from the OAuth upsert.
func (s *Server) SetRequireRegistration(v bool) {
	s.mu.Lock()
	s.cfg.RequireRegistration = v
	s.mu.Unlock()
}

// Calls returns the number of requests route received.
func (s *Server) Calls(route Route) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Seed stores u, assigning an ID when empty.
func (s *Server) Seed(u User) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = "user"
	}
	s.putLocked(&u)
	return u
}

// UserByEmail returns the stored user for email.
func (s *Server) UserByEmail(email string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[normalize(email)]
	if !ok {
		return User{}, false
	}
	return *s.users[id], true
}

// UserCount returns the number of stored users.
func (s *Server) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// EmailVerified reports whether the verification notification arrived for
// the external uid.
func (s *Server) EmailVerified(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified[uid]
}

/* ==== HANDLERS ==== */

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteLookup) {
		return
	}
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	u := s.byUIDLocked(claims.UID)
	s.mu.Unlock()
	if u == nil {
		writeErr(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type registerBody struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	ExternalUID string `json:"external_uid"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteRegister) {
		return
	}
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var body registerBody
	if !readJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Username) == "" || strings.TrimSpace(body.Email) == "" {
		writeErr(w, http.StatusBadRequest, "username and email are required")
		return
	}
	if body.ExternalUID != claims.UID || !strings.EqualFold(body.Email, claims.Email) {
		writeErr(w, http.StatusBadRequest, "credential does not match request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[normalize(body.Email)]; exists {
		writeErr(w, http.StatusConflict, "email already registered")
		return
	}
	if s.byUIDLocked(body.ExternalUID) != nil {
		writeErr(w, http.StatusConflict, "identity already registered")
		return
	}
	u := s.newUserLocked(body.Username, body.Email, body.ExternalUID)
	writeJSON(w, http.StatusCreated, u)
}

type upsertBody struct {
	Email       string `json:"email"`
	ExternalUID string `json:"external_uid"`
	Username    string `json:"username"`
}

func (s *Server) upsert(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteUpsert) {
		return
	}
	var body upsertBody
	if !readJSON(w, r, &body) {
		return
	}
	if body.Email == "" || body.ExternalUID == "" {
		writeErr(w, http.StatusBadRequest, "email and external_uid are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.byUIDLocked(body.ExternalUID); u != nil {
		writeJSON(w, http.StatusOK, u)
		return
	}
	if id, ok := s.byEmail[normalize(body.Email)]; ok {
		u := s.users[id]
		delete(s.byUID, u.ExternalUID)
		u.ExternalUID = body.ExternalUID
		s.byUID[u.ExternalUID] = u.ID
		writeJSON(w, http.StatusOK, u)
		return
	}
	if s.cfg.RequireRegistration {
		writeErr(w, http.StatusUnprocessableEntity, "registration required")
		return
	}
	username := body.Username
	if username == "" {
		username = body.Email
	}
	writeJSON(w, http.StatusOK, s.newUserLocked(username, body.Email, body.ExternalUID))
}

type cleanupBody struct {
	Email string `json:"email"`
}

type cleanupResponse struct {
	Success            bool   `json:"success"`
	ExternalUID        string `json:"external_uid,omitempty"`
	LocalRecordDeleted bool   `json:"local_record_deleted,omitempty"`
	Error              string `json:"error,omitempty"`
}

// cleanup removes an orphaned provider identity: one without a local user.
func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteCleanup) {
		return
	}
	var body cleanupBody
	if !readJSON(w, r, &body) {
		return
	}
	if body.Email == "" {
		writeErr(w, http.StatusBadRequest, "email is required")
		return
	}

	s.mu.Lock()
	_, hasLocal := s.byEmail[normalize(body.Email)]
	s.mu.Unlock()
	if hasLocal {
		writeJSON(w, http.StatusOK, cleanupResponse{Error: "a local account exists for this email"})
		return
	}
	s.deleteIdentity(r.Context(), w, body.Email, false)
}

func (s *Server) adminCleanup(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteAdminCleanup) {
		return
	}
	if s.cfg.AdminKey == "" || r.Header.Get("X-Admin-Key") != s.cfg.AdminKey {
		writeErr(w, http.StatusForbidden, "admin key required")
		return
	}
	var body cleanupBody
	if !readJSON(w, r, &body) {
		return
	}
	if body.Email == "" {
		writeErr(w, http.StatusBadRequest, "email is required")
		return
	}
	s.deleteIdentity(r.Context(), w, body.Email, true)
}

func (s *Server) deleteIdentity(ctx context.Context, w http.ResponseWriter, email string, withLocal bool) {
	var resp cleanupResponse
	if s.cfg.Identities != nil {
		uid, ok, err := s.cfg.Identities.DeleteByEmail(ctx, email)
		if err != nil {
			writeErr(w, http.StatusBadGateway, err.Error())
			return
		}
		resp.ExternalUID = uid
		resp.Success = ok
	}
	if withLocal {
		s.mu.Lock()
		if id, ok := s.byEmail[normalize(email)]; ok {
			s.deleteLocked(id)
			resp.LocalRecordDeleted = true
			resp.Success = true
		}
		s.mu.Unlock()
	}
	if !resp.Success && resp.Error == "" {
		resp.Error = "no identity for this email"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) emailVerified(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteEmailVerified) {
		return
	}
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !claims.EmailVerified {
		writeErr(w, http.StatusBadRequest, "email not verified")
		return
	}
	s.mu.Lock()
	s.verified[claims.UID] = true
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logout(w http.ResponseWriter, _ *http.Request) {
	if s.injected(w, RouteLogout) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* ==== HELPERS ==== */

func (s *Server) injected(w http.ResponseWriter, route Route) bool {
	s.mu.Lock()
	s.calls[route]++
	queue := s.failures[route]
	if len(queue) == 0 {
		s.mu.Unlock()
		return false
	}
	status := queue[0]
	s.failures[route] = queue[1:]
	s.mu.Unlock()

	writeErr(w, status, http.StatusText(status))
	return true
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*credential.Claims, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || token == "" {
		writeErr(w, http.StatusUnauthorized, "missing bearer credential")
		return nil, false
	}
	claims, err := s.cfg.Verifier.Verify(token)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, "invalid credential")
		return nil, false
	}
	return claims, true
}

func (s *Server) newUserLocked(username, email, uid string) *User {
	role := "user"
	for _, a := range s.cfg.Admins {
		if strings.EqualFold(a, email) {
			role = "admin"
		}
	}
	u := &User{
		ID:          uuid.NewString(),
		Username:    strings.TrimSpace(username),
		Email:       strings.TrimSpace(email),
		Role:        role,
		ExternalUID: uid,
	}
	s.putLocked(u)
	return u
}

func (s *Server) putLocked(u *User) {
	s.users[u.ID] = u
	s.byEmail[normalize(u.Email)] = u.ID
	if u.ExternalUID != "" {
		s.byUID[u.ExternalUID] = u.ID
	}
}

func (s *Server) deleteLocked(id string) {
	u, ok := s.users[id]
	if !ok {
		return
	}
	delete(s.users, id)
	delete(s.byEmail, normalize(u.Email))
	delete(s.byUID, u.ExternalUID)
}

func (s *Server) byUIDLocked(uid string) *User {
	id, ok := s.byUID[uid]
	if !ok {
		return nil
	}
	u := *s.users[id]
	return &u
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
