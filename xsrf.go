package bloggart

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eringen/bloggart/internal/memcache"
)

const (
	xsrfSettingKey = "xsrf_secret"
	xsrfCacheKey   = "xsrf_secret"

	// XSRFField is the form field carrying the token.
	XSRFField = "xsrf"
	// XSRFHeader is the request header accepted instead of the form field.
	XSRFHeader = "X-XSRF-Token"
)

// XSRF issues and checks per-user, per-action tokens derived from a secret
// that is generated once and shared by every process.
type XSRF struct {
	store *Store
	mc    memcache.Client
	log   zerolog.Logger

	mu     sync.Mutex
	secret []byte
}

// NewXSRF returns an XSRF whose secret is loaded lazily.
func NewXSRF(s *Store, mc memcache.Client, logger zerolog.Logger) *XSRF {
	return &XSRF{store: s, mc: mc, log: logger}
}

// Secret returns the shared secret, creating it on first use.
func (x *XSRF) Secret(ctx context.Context) ([]byte, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.secret != nil {
		return x.secret, nil
	}
	if b, err := x.mc.Get(ctx, xsrfCacheKey); err == nil && len(b) > 0 {
		x.secret = b
		return b, nil
	}
	fresh := make([]byte, 32)
	if _, err := rand.Read(fresh); err != nil {
		return nil, fmt.Errorf("generate xsrf secret: %w", err)
	}
	stored, err := x.store.InitSetting(ctx, xsrfSettingKey, base64.StdEncoding.EncodeToString(fresh))
	if err != nil {
		return nil, fmt.Errorf("store xsrf secret: %w", err)
	}
	secret, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, fmt.Errorf("decode xsrf secret: %w", err)
	}
	if err := x.mc.Set(ctx, xsrfCacheKey, secret, 0); err != nil {
		x.log.Warn().Err(err).Msg("memcache set failed")
	}
	x.secret = secret
	return secret, nil
}

// Token returns the token binding user to action.
func (x *XSRF) Token(ctx context.Context, user, action string) (string, error) {
	secret, err := x.Secret(ctx)
	if err != nil {
		return "", err
	}
	return sign(secret, user, action), nil
}

// ErrBadToken is returned by Check when the token does not match.
var ErrBadToken = errors.New("invalid xsrf token")

// Check verifies token for user and action.
func (x *XSRF) Check(ctx context.Context, user, action, token string) error {
	secret, err := x.Secret(ctx)
	if err != nil {
		return err
	}
	if token == "" || !hmac.Equal([]byte(token), []byte(sign(secret, user, action))) {
		return ErrBadToken
	}
	return nil
}

func sign(secret []byte, user, action string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(user))
	mac.Write([]byte{0})
	mac.Write([]byte(action))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}
