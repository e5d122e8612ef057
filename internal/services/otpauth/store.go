package otpauth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTimeout = 2 * time.Second

type memEntry struct {
	value     string
	expiresAt time.Time
}

// CodeStore keeps short-lived OTP state. Redis is preferred; the in-memory
// map is used when no client is configured or Redis errors.
type CodeStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	mem map[string]memEntry
}

func NewCodeStore(rdb *redis.Client, prefix string) *CodeStore {
	return &CodeStore{
		rdb:    rdb,
		prefix: prefix,
		now:    time.Now,
		mem:    map[string]memEntry{},
	}
}

func (s *CodeStore) key(k string) string {
	return s.prefix + k
}

func (s *CodeStore) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if s.rdb != nil {
		rctx, cancel := context.WithTimeout(ctx, redisTimeout)
		defer cancel()
		if err := s.rdb.Set(rctx, s.key(key), value, ttl).Err(); err == nil {
			return
		}
	}
	s.mu.Lock()
	s.mem[key] = memEntry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

func (s *CodeStore) Get(ctx context.Context, key string) (string, bool) {
	if s.rdb != nil {
		rctx, cancel := context.WithTimeout(ctx, redisTimeout)
		defer cancel()
		val, err := s.rdb.Get(rctx, s.key(key)).Result()
		if err == nil {
			return val, true
		}
	}
	return s.memGet(key, false)
}

// Take returns the value and removes it.
func (s *CodeStore) Take(ctx context.Context, key string) (string, bool) {
	if s.rdb != nil {
		rctx, cancel := context.WithTimeout(ctx, redisTimeout)
		defer cancel()
		val, err := s.rdb.GetDel(rctx, s.key(key)).Result()
		if err == nil {
			return val, true
		}
	}
	return s.memGet(key, true)
}

func (s *CodeStore) Delete(ctx context.Context, key string) {
	if s.rdb != nil {
		rctx, cancel := context.WithTimeout(ctx, redisTimeout)
		defer cancel()
		_ = s.rdb.Del(rctx, s.key(key)).Err()
	}
	s.mu.Lock()
	delete(s.mem, key)
	s.mu.Unlock()
}

// TrySet stores value only when key is absent. It returns false with the
// remaining lifetime of the existing entry otherwise.
func (s *CodeStore) TrySet(ctx context.Context, key, value string, ttl time.Duration) (bool, time.Duration) {
	if s.rdb != nil {
		rctx, cancel := context.WithTimeout(ctx, redisTimeout)
		defer cancel()
		ok, err := s.rdb.SetNX(rctx, s.key(key), value, ttl).Result()
		if err == nil {
			if ok {
				return true, 0
			}
			left, err := s.rdb.PTTL(rctx, s.key(key)).Result()
			if err != nil || left < 0 {
				left = ttl
			}
			return false, left
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if entry, ok := s.mem[key]; ok && now.Before(entry.expiresAt) {
		return false, entry.expiresAt.Sub(now)
	}
	s.mem[key] = memEntry{value: value, expiresAt: now.Add(ttl)}
	return true, 0
}

// Incr adds one to the counter at key and returns the new count. A new
// counter expires after ttl; later increments keep that expiry.
func (s *CodeStore) Incr(ctx context.Context, key string, ttl time.Duration) int64 {
	if s.rdb != nil {
		rctx, cancel := context.WithTimeout(ctx, redisTimeout)
		defer cancel()
		n, err := s.rdb.Incr(rctx, s.key(key)).Result()
		if err == nil {
			if n == 1 {
				_ = s.rdb.PExpire(rctx, s.key(key), ttl).Err()
			}
			return n
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	entry, ok := s.mem[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = memEntry{value: "0", expiresAt: now.Add(ttl)}
	}
	n, _ := strconv.ParseInt(entry.value, 10, 64)
	n++
	entry.value = strconv.FormatInt(n, 10)
	s.mem[key] = entry
	return n
}

func (s *CodeStore) memGet(key string, remove bool) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.mem[key]
	if !ok {
		return "", false
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.mem, key)
		return "", false
	}
	if remove {
		delete(s.mem, key)
	}
	return entry.value, true
}

// Sweep drops expired in-memory entries and reports how many were removed.
func (s *CodeStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, entry := range s.mem {
		if !now.Before(entry.expiresAt) {
			delete(s.mem, k)
			removed++
		}
	}
	return removed
}
