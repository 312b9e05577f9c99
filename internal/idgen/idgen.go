package idgen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"slam/internal/db"
)

// Generator hands out record ids that are never reused.
type Generator interface {
	Next(ctx context.Context) (string, error)
	// Current returns the last issued sequence number (0 when none).
	Current(ctx context.Context) (int64, error)
	// Advance moves the counter forward to at least n. It never moves it back.
	Advance(ctx context.Context, n int64) error
}

// Format renders ids as <prefix>-<zero padded n>.
type Format struct {
	Prefix string
	Width  int
}

func (f Format) ID(n int64) string {
	return fmt.Sprintf("%s-%0*d", f.Prefix, f.Width, n)
}

// Parse extracts the sequence number of an id in this format.
func (f Format) Parse(id string) (int64, bool) {
	rest, ok := strings.CutPrefix(id, f.Prefix+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// SQLCounter keeps the sequence in the id_counters table. Each Next is a
// single upsert statement, so concurrent callers never see the same value.
type SQLCounter struct {
	DB     *db.DB
	Name   string
	Format Format
}

func (c SQLCounter) Next(ctx context.Context) (string, error) {
	var n int64
	err := c.DB.QueryRowOn(ctx, c.DB, `INSERT INTO id_counters(name,last_value) VALUES (?,1)
		ON CONFLICT(name) DO UPDATE SET last_value = id_counters.last_value + 1
		RETURNING last_value`, c.Name).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("next id: %w", err)
	}
	return c.Format.ID(n), nil
}

func (c SQLCounter) Current(ctx context.Context) (int64, error) {
	var n int64
	err := c.DB.QueryRowOn(ctx, c.DB, `SELECT last_value FROM id_counters WHERE name=?`, c.Name).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (c SQLCounter) Advance(ctx context.Context, n int64) error {
	_, err := c.DB.ExecOn(ctx, c.DB, `INSERT INTO id_counters(name,last_value) VALUES (?,?)
		ON CONFLICT(name) DO UPDATE SET last_value = CASE WHEN id_counters.last_value < excluded.last_value
			THEN excluded.last_value ELSE id_counters.last_value END`, c.Name, n)
	return err
}

// RedisCounter uses INCR on a shared key for deployments with several
// writers that do not share a database counter.
type RedisCounter struct {
	Client *goredis.Client
	Key    string
	Format Format
}

// NewRedisCounter connects and pings before returning.
func NewRedisCounter(addr, key string, format Format) (*RedisCounter, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCounter{Client: rdb, Key: key, Format: format}, nil
}

func (c *RedisCounter) Next(ctx context.Context) (string, error) {
	n, err := c.Client.Incr(ctx, c.Key).Result()
	if err != nil {
		return "", fmt.Errorf("next id: %w", err)
	}
	return c.Format.ID(n), nil
}

func (c *RedisCounter) Current(ctx context.Context) (int64, error) {
	n, err := c.Client.Get(ctx, c.Key).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return n, err
}

var advanceScript = goredis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local want = tonumber(ARGV[1])
if cur < want then
	redis.call('SET', KEYS[1], want)
	return want
end
return cur
`)

func (c *RedisCounter) Advance(ctx context.Context, n int64) error {
	return advanceScript.Run(ctx, c.Client, []string{c.Key}, n).Err()
}

func (c *RedisCounter) Close() error {
	return c.Client.Close()
}
