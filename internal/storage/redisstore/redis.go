package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"limitpaste/internal/id"
	"limitpaste/internal/storage"
)

const keyPrefix = "paste:"

// Each paste is a hash. Empty expires_at / max_views mean unrestricted.
var (
	createScript = redis.NewScript(`
		if redis.call("EXISTS", KEYS[1]) == 1 then
			return 0
		end
		redis.call("HSET", KEYS[1],
			"content", ARGV[1],
			"created_at", ARGV[2],
			"expires_at", ARGV[3],
			"max_views", ARGV[4],
			"view_count", 0,
			"passphrase_hash", ARGV[5])
		return 1
	`)

	consumeScript = redis.NewScript(`
		local f = redis.call("HMGET", KEYS[1], "expires_at", "max_views", "view_count")
		if f[3] == false then
			return false
		end
		local now = tonumber(ARGV[1])
		if f[1] ~= "" and tonumber(f[1]) <= now then
			return false
		end
		if f[2] ~= "" and tonumber(f[3]) >= tonumber(f[2]) then
			return false
		end
		redis.call("HINCRBY", KEYS[1], "view_count", 1)
		return redis.call("HGETALL", KEYS[1])
	`)
)

// Options configures the Redis connection pool.
type Options struct {
	URL     string
	Timeout time.Duration
}

// Store implements storage.Store on Redis; ConsumeView runs as a Lua script,
// which Redis executes atomically.
type Store struct {
	client  *redis.Client
	ids     *id.Generator
	timeout time.Duration
}

// Open parses the URL, sizes the pool and pings the server.
func Open(ctx context.Context, o Options) (*Store, error) {
	opt, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	return &Store{client: client, ids: id.New(0), timeout: o.Timeout}, nil
}

// Create stores a paste unless the generated key is already taken.
func (s *Store) Create(ctx context.Context, n storage.NewPaste) (*storage.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out *storage.Paste
	_, err := s.ids.Insert(ctx, func(pid string) (bool, error) {
		paste := n.Build(pid)
		created, err := createScript.Run(ctx, s.client, []string{keyPrefix + pid},
			paste.Content,
			paste.CreatedAt.UnixMilli(),
			optionalMillis(paste.ExpiresAt),
			optionalInt(paste.MaxViews),
			paste.PassphraseHash,
		).Int()
		if err != nil {
			return false, errors.Wrap(err, "create paste")
		}
		if created == 0 {
			return false, nil
		}
		out = paste
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get reads the paste hash.
func (s *Store) Get(ctx context.Context, pid string) (*storage.Paste, error) {
	if !s.ids.Valid(pid) {
		return nil, storage.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	fields, err := s.client.HGetAll(ctx, keyPrefix+pid).Result()
	if err != nil {
		return nil, errors.Wrap(err, "get paste")
	}
	if len(fields) == 0 {
		return nil, storage.ErrNotFound
	}
	return decode(pid, fields)
}

// ConsumeView runs the check-and-increment script.
func (s *Store) ConsumeView(ctx context.Context, pid string, now time.Time) (*storage.Paste, error) {
	if !s.ids.Valid(pid) {
		return nil, storage.ErrNotAvailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := consumeScript.Run(ctx, s.client, []string{keyPrefix + pid}, now.UnixMilli()).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotAvailable
		}
		return nil, errors.Wrap(err, "consume view")
	}
	fields := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		fields[raw[i]] = raw[i+1]
	}
	return decode(pid, fields)
}

// Ping round-trips a PING to the server.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client's connection pool.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func decode(pid string, f map[string]string) (*storage.Paste, error) {
	created, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "decode created_at")
	}
	views, err := strconv.Atoi(f["view_count"])
	if err != nil {
		return nil, errors.Wrap(err, "decode view_count")
	}
	p := &storage.Paste{
		ID:             pid,
		Content:        f["content"],
		CreatedAt:      storage.FromMillis(created),
		ViewCount:      views,
		PassphraseHash: f["passphrase_hash"],
	}
	if v := f["expires_at"]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "decode expires_at")
		}
		p.ExpiresAt = storage.FromMillis(ms)
	}
	if v := f["max_views"]; v != "" {
		if p.MaxViews, err = strconv.Atoi(v); err != nil {
			return nil, errors.Wrap(err, "decode max_views")
		}
	}
	return p, nil
}

func optionalMillis(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func optionalInt(v int) string {
	if v <= 0 {
		return ""
	}
	return strconv.Itoa(v)
}
