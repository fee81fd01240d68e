package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const mirrorTTL = 24 * time.Hour

// Mirror keeps best-effort JSON snapshots of live sessions and challenges in
// Redis. Memory is authoritative for gameplay; the mirror exists so operators
// can inspect in-flight state and so a restarted process can list what was
// live. Mirror writes never gate engine transitions.
type Mirror struct {
	rdb *redis.Client
}

func NewMirror(redisURL string) (*Mirror, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for mirror")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Mirror{rdb: rdb}, nil
}

func (m *Mirror) Close() error {
	if m == nil || m.rdb == nil {
		return nil
	}
	return m.rdb.Close()
}

func sessionKey(id string) string   { return "arena:session:" + strings.TrimSpace(id) }
func challengeKey(id string) string { return "arena:challenge:" + strings.TrimSpace(id) }

// SaveSession snapshots any JSON-marshalable session view.
func (m *Mirror) SaveSession(ctx context.Context, id string, v any) error {
	return m.save(ctx, sessionKey(id), v)
}

// DropSession removes a settled session's snapshot.
func (m *Mirror) DropSession(ctx context.Context, id string) error {
	if m == nil || m.rdb == nil {
		return nil
	}
	return m.rdb.Del(ctx, sessionKey(id)).Err()
}

func (m *Mirror) SaveChallenge(ctx context.Context, id string, v any) error {
	return m.save(ctx, challengeKey(id), v)
}

func (m *Mirror) DropChallenge(ctx context.Context, id string) error {
	if m == nil || m.rdb == nil {
		return nil
	}
	return m.rdb.Del(ctx, challengeKey(id)).Err()
}

func (m *Mirror) save(ctx context.Context, key string, v any) error {
	if m == nil || m.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, key, raw, mirrorTTL).Err()
}

// LoadSession unmarshals one snapshot into dst; returns false when absent.
func (m *Mirror) LoadSession(ctx context.Context, id string, dst any) (bool, error) {
	if m == nil || m.rdb == nil {
		return false, nil
	}
	raw, err := m.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, dst)
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
