package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"parley/internal/models"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultCacheTTL = 5 * time.Minute
	TokenCookie     = "token"
	TokenQueryParam = "token"
)

type Config struct {
	Secret   string        `json:"secret"`
	Issuer   string        `json:"issuer"`
	CacheTTL time.Duration `json:"cacheTTL"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("auth secret is required")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("token cache TTL must not be negative, got %s", c.CacheTTL)
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return nil
}

// Claims are the session claims issued by the identity provider. The
// subject is the provider's user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type verified struct {
	externalID string
	expiresAt  time.Time
}

// Verifier checks identity-provider session tokens and yields the verified
// external user id. Verified tokens are cached until they expire or the
// cache TTL passes, whichever comes first.
type Verifier struct {
	Config
	secret []byte
	tokens geche.Geche[string, verified]
	now    func() time.Time
}

func NewVerifier(ctx context.Context, config Config) (*Verifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{
		Config: config,
		secret: []byte(config.Secret),
		tokens: geche.NewMapTTLCache[string, verified](ctx, config.CacheTTL, time.Minute),
		now:    time.Now,
	}, nil
}

// Verify returns the external user id the token was issued for.
func (v *Verifier) Verify(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", models.ErrUnauthenticated)
	}

	if cached, err := v.tokens.Get(token); err == nil {
		if v.now().Before(cached.expiresAt) {
			return cached.externalID, nil
		}
		_ = v.tokens.Del(token)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", models.ErrUnauthenticated)
	}

	v.tokens.Set(token, verified{
		externalID: claims.Subject,
		expiresAt:  claims.ExpiresAt.Time,
	})
	return claims.Subject, nil
}

// Issue signs a session token for externalID. The identity provider issues
// tokens in production; Issue serves tooling and tests.
func (v *Verifier) Issue(externalID string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   externalID,
			Issuer:    v.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest extracts the session token from the Authorization
// header, the token cookie or the token query parameter, in that order.
// Browsers cannot set headers on websocket handshakes, hence the fallbacks.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get(TokenQueryParam)
}
