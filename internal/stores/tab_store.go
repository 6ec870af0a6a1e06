package stores

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	kindPendingRegistration = "pending_registration"
	kindRedirectIntent      = "redirect_intent"
	kindRedirectPending     = "redirect_pending"
)

// PendingRegistrationRecord is written when a provider sign-in has no local user yet.
type PendingRegistrationRecord struct {
	Email       string `json:"email"`
	ExternalUID string `json:"external_uid,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Provider    string `json:"provider,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// RedirectPendingRecord marks a full-page provider redirect in flight.
type RedirectPendingRecord struct {
	Provider  string `json:"provider"`
	StartedAt int64  `json:"started_at"`
}

// TabStore groups the tab-scoped records.
type TabStore struct {
	backend Ephemeral
	prefix  string
	ttl     time.Duration
}

func NewTabStore(backend Ephemeral, prefix string, ttl time.Duration) *TabStore {
	if prefix == "" {
		prefix = "tab"
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &TabStore{backend: backend, prefix: prefix, ttl: ttl}
}

func (s *TabStore) key(tabID, kind string) string {
	if tabID == "" {
		tabID = "default"
	}
	return s.prefix + ":" + tabID + ":" + kind
}

func (s *TabStore) SavePendingRegistration(ctx context.Context, tabID string, rec PendingRegistrationRecord) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, s.key(tabID, kindPendingRegistration), data, s.ttl)
}

// LoadPendingRegistration returns (nil, nil) when nothing is stored.
func (s *TabStore) LoadPendingRegistration(ctx context.Context, tabID string) (*PendingRegistrationRecord, error) {
	data, err := s.backend.Get(ctx, s.key(tabID, kindPendingRegistration))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var rec PendingRegistrationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		_ = s.backend.Delete(ctx, s.key(tabID, kindPendingRegistration))
		return nil, nil
	}
	return &rec, nil
}

func (s *TabStore) DeletePendingRegistration(ctx context.Context, tabID string) error {
	return s.backend.Delete(ctx, s.key(tabID, kindPendingRegistration))
}

func (s *TabStore) SetRedirectIntent(ctx context.Context, tabID, path string) error {
	return s.backend.Put(ctx, s.key(tabID, kindRedirectIntent), []byte(path), s.ttl)
}

// ConsumeRedirectIntent returns "" when no intent is stored. A stored intent is
// returned to exactly one caller.
func (s *TabStore) ConsumeRedirectIntent(ctx context.Context, tabID string) (string, error) {
	data, err := s.backend.Consume(ctx, s.key(tabID, kindRedirectIntent))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func (s *TabStore) MarkRedirectPending(ctx context.Context, tabID string, rec RedirectPendingRecord) error {
	if rec.StartedAt == 0 {
		rec.StartedAt = time.Now().Unix()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, s.key(tabID, kindRedirectPending), data, s.ttl)
}

// ConsumeRedirectPending returns (nil, nil) when no redirect is in flight.
func (s *TabStore) ConsumeRedirectPending(ctx context.Context, tabID string) (*RedirectPendingRecord, error) {
	data, err := s.backend.Consume(ctx, s.key(tabID, kindRedirectPending))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var rec RedirectPendingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil
	}
	return &rec, nil
}
