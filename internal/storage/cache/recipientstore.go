// --- File: internal/storage/cache/recipientstore.go ---
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// ErrCacheMiss is returned by CacheClient.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// AllRecipientsKey holds the cached result of List.
const AllRecipientsKey = "notify:recipients:all"

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get decodes the value into dest, or returns ErrCacheMiss.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// cachedRecipient is the JSON shape kept in Redis.
type cachedRecipient struct {
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	Owner     string    `json:"owner,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CachedRecipientStore is a Decorator that adds Read-Aside caching to any RecipientStore.
// Only List is cached; ListByOwner reads through.
type CachedRecipientStore struct {
	realStore dispatch.RecipientStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedRecipientStore(realStore dispatch.RecipientStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedRecipientStore {
	return &CachedRecipientStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedRecipientStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedRecipientStore) List(ctx context.Context) ([]notification.Recipient, error) {
	var cached []cachedRecipient
	err := s.cache.Get(ctx, AllRecipientsKey, &cached)
	if err == nil {
		return s.fromCache(cached), nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("Cache read failed, falling back to store", "err", err)
	}

	fresh, err := s.realStore.List(ctx)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; if Redis is down we just serve from the DB.
	if err := s.cache.Set(ctx, AllRecipientsKey, toCache(fresh), s.ttl); err != nil {
		s.logger.Warn("Cache fill failed", "err", err)
	}
	return fresh, nil
}

func (s *CachedRecipientStore) Get(ctx context.Context, token notification.RecipientToken) (*notification.Recipient, error) {
	return s.realStore.Get(ctx, token)
}

func (s *CachedRecipientStore) ListByOwner(ctx context.Context, owner urn.URN) ([]notification.Recipient, error) {
	return s.realStore.ListByOwner(ctx, owner)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedRecipientStore) Register(ctx context.Context, r notification.Recipient) error {
	if err := s.realStore.Register(ctx, r); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// Delete clears the cache even for absent tokens. Once the store delete has
// succeeded a failed invalidation is only logged; the entry expires with its TTL.
func (s *CachedRecipientStore) Delete(ctx context.Context, token notification.RecipientToken) error {
	if err := s.realStore.Delete(ctx, token); err != nil {
		return err
	}
	if err := s.invalidate(ctx); err != nil {
		s.logger.Warn("Cache invalidation failed after delete", "token", token.Redacted(), "err", err)
	}
	return nil
}

// --- Helpers ---

func (s *CachedRecipientStore) invalidate(ctx context.Context) error {
	return s.cache.Del(ctx, AllRecipientsKey)
}

func toCache(rs []notification.Recipient) []cachedRecipient {
	out := make([]cachedRecipient, len(rs))
	for i, r := range rs {
		out[i] = cachedRecipient{
			Token:     string(r.Token),
			Platform:  string(r.Platform),
			Owner:     r.OwnerString(),
			UpdatedAt: r.UpdatedAt,
		}
	}
	return out
}

func (s *CachedRecipientStore) fromCache(cached []cachedRecipient) []notification.Recipient {
	out := make([]notification.Recipient, len(cached))
	for i, c := range cached {
		owner, err := notification.ParseOwner(c.Owner)
		if err != nil {
			s.logger.Warn("Dropping unparseable cached owner", "err", err)
		}
		out[i] = notification.Recipient{
			Token:     notification.RecipientToken(c.Token),
			Platform:  notification.Platform(c.Platform),
			Owner:     owner,
			UpdatedAt: c.UpdatedAt,
		}
	}
	return out
}
