package session

import (
	"crypto/sha256"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"
)

const CookieName = "campuskubo_session"

// CookieOptions controls how session cookies are issued.
type CookieOptions struct {
	Secure bool
	MaxAge time.Duration
}

// CookieKeys derives independent signing and AES-256 encryption keys from
// one session secret.
func CookieKeys(secret []byte) (hashKey, blockKey []byte) {
	return deriveKey(secret, "campuskubo session signing", 64), deriveKey(secret, "campuskubo session encryption", 32)
}

func deriveKey(secret []byte, info string, n int) []byte {
	key := make([]byte, n)
	// hkdf output only ends past 255 hash lengths
	io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key)
	return key
}

// CookieProvider keeps session values in a signed cookie, encrypted as well
// when a block key is given.
type CookieProvider struct {
	store *sessions.CookieStore
}

// NewCookieProvider takes a 32 or 64 byte hash key and an optional 16, 24 or
// 32 byte block key for encryption.
func NewCookieProvider(hashKey, blockKey []byte, opts CookieOptions) *CookieProvider {
	keys := [][]byte{hashKey}
	if len(blockKey) > 0 {
		keys = append(keys, blockKey)
	}
	cs := sessions.NewCookieStore(keys...)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(opts.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &CookieProvider{store: cs}
}

// Open never fails on a tampered or stale cookie; the client just starts anonymous.
func (p *CookieProvider) Open(r *http.Request) (RequestStore, error) {
	sess, err := p.store.Get(r, CookieName)
	if err != nil {
		sess, err = p.store.New(r, CookieName)
		if sess == nil {
			return nil, err
		}
	}
	return &CookieStore{r: r, sess: sess}, nil
}

type CookieStore struct {
	r    *http.Request
	sess *sessions.Session
}

func (s *CookieStore) Get(key string) (string, bool) {
	v, ok := s.sess.Values[key].(string)
	return v, ok
}

func (s *CookieStore) Set(key, value string) error {
	s.sess.Values[key] = value
	return nil
}

func (s *CookieStore) Clear() error {
	clear(s.sess.Values)
	return nil
}

func (s *CookieStore) Save(w http.ResponseWriter) error {
	return s.sess.Save(s.r, w)
}
