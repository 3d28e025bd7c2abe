package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-backend/internal/shipping"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

const DefaultTTL = 30 * time.Minute

// Key identifies a quote: same mode, same destination, same cart contents.
type Key struct {
	Mode        shipping.Mode
	PostalCode  string
	Fingerprint string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Mode, k.PostalCode, k.Fingerprint)
}

// Store remembers quotes between the quote and checkout requests.
type Store interface {
	Get(ctx context.Context, key Key) (*Quote, bool, error)
	Put(ctx context.Context, key Key, q Quote) error
}

// RedisStore keeps quotes in redis as JSON.
type RedisStore struct {
	cache redis.QuoteCache
	ttl   time.Duration
}

func NewRedisStore(cache redis.QuoteCache, ttl time.Duration) (*RedisStore, error) {
	if cache == nil {
		return nil, fmt.Errorf("quote cache required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{cache: cache, ttl: ttl}, nil
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*Quote, bool, error) {
	raw, err := s.cache.Get(ctx, s.key(key))
	if err != nil {
		if redis.IsMiss(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get quote: %w", err)
	}
	var q Quote
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return nil, false, fmt.Errorf("decode quote: %w", err)
	}
	return &q, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key Key, q Quote) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quote: %w", err)
	}
	if err := s.cache.Set(ctx, s.key(key), string(payload), s.ttl); err != nil {
		return fmt.Errorf("put quote: %w", err)
	}
	return nil
}

func (s *RedisStore) key(key Key) string {
	return s.cache.QuoteKey(key.Mode.String(), key.PostalCode, key.Fingerprint)
}

// MemoryStore is the single-instance fallback used when redis is not
// configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[Key]memoryEntry
}

type memoryEntry struct {
	quote     Quote
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[Key]memoryEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Quote, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	q := entry.quote
	return &q, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key Key, q Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	// sweep on write so the map stays bounded by live quotes
	for k, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = memoryEntry{quote: q, expiresAt: now.Add(s.ttl)}
	return nil
}
