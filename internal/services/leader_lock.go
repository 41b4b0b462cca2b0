package services

import (
	"context"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker guards the cleanup worker so the destructive steps run in exactly one
// place at a time. Two schedulers racing on deletes would corrupt the
// counter-reconciliation step.
type Locker interface {
	TryAcquire(ctx context.Context) bool
	Release(ctx context.Context)
}

// LocalLocker serialises workers inside a single process. It is the fallback
// for deployments that run one instance and no redis.
type LocalLocker struct {
	mu   sync.Mutex
	held bool
}

func (l *LocalLocker) TryAcquire(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false
	}
	l.held = true
	return true
}

func (l *LocalLocker) Release(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
}

// RedisLocker is a SET NX PX lock with an owner token, so only the instance
// that acquired the lock can release it.
type RedisLocker struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// releaseScript deletes the lock only when the stored token is ours
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// NewLockerFromEnv returns a redis-backed locker when REDIS_ADDR is set,
// otherwise a process-local one.
func NewLockerFromEnv() Locker {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		log.Println("REDIS_ADDR not set, cleanup worker uses process-local lock")
		return &LocalLocker{}
	}

	db := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	})

	return &RedisLocker{
		client: client,
		key:    "rendezvous:cleanup:leader",
		token:  uuid.NewString(),
		ttl:    10 * time.Minute,
	}
}

func (l *RedisLocker) TryAcquire(ctx context.Context) bool {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		log.Printf("Warning: leader lock acquire failed: %v", err)
		return false
	}
	return ok
}

func (l *RedisLocker) Release(ctx context.Context) {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		log.Printf("Warning: leader lock release failed: %v", err)
	}
}
