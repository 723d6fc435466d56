package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProvider keeps session values in a Redis hash keyed by a random id
// carried in a cookie.
type RedisProvider struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	secure bool
}

func NewRedisProvider(client *redis.Client, ttl time.Duration, secure bool) *RedisProvider {
	return &RedisProvider{
		client: client,
		prefix: "campuskubo:session:",
		ttl:    ttl,
		secure: secure,
	}
}

func (p *RedisProvider) key(id string) string {
	return p.prefix + id
}

func (p *RedisProvider) Open(r *http.Request) (RequestStore, error) {
	s := &RedisStore{p: p, ctx: r.Context(), values: make(map[string]string)}

	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return s, nil
	}
	values, err := p.client.HGetAll(s.ctx, p.key(c.Value)).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	// unknown ids are never adopted, so a client cannot pick its own
	if len(values) > 0 {
		s.id = c.Value
		s.values = values
	}
	return s, nil
}

type RedisStore struct {
	p      *RedisProvider
	ctx    context.Context
	id     string
	values map[string]string
	dirty  bool // cookie needs writing
}

func (s *RedisStore) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *RedisStore) Set(key, value string) error {
	if s.id == "" {
		id, err := GenerateID()
		if err != nil {
			return err
		}
		s.id = id
		s.dirty = true
	}
	_, err := s.p.client.TxPipelined(s.ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(s.ctx, s.p.key(s.id), key, value)
		pipe.Expire(s.ctx, s.p.key(s.id), s.p.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set session value: %w", err)
	}
	s.values[key] = value
	return nil
}

// Clear deletes the server-side hash and drops the id; the next Set starts a
// fresh session.
func (s *RedisStore) Clear() error {
	clear(s.values)
	if s.id == "" {
		return nil
	}
	if err := s.p.client.Del(s.ctx, s.p.key(s.id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.id = ""
	s.dirty = true
	return nil
}

func (s *RedisStore) Save(w http.ResponseWriter) error {
	if !s.dirty {
		return nil
	}
	c := &http.Cookie{
		Name:     CookieName,
		Value:    s.id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.p.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if s.id == "" {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
	s.dirty = false
	return nil
}
