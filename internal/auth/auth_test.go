package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parley/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier(t *testing.T) {
	const t0Unix = 1700000000

	createVerifier := func(t *testing.T, cfg Config) (*Verifier, *time.Time) {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		v, err := NewVerifier(ctx, cfg)
		require.NoError(t, err)

		currentTime := time.Unix(t0Unix, 0)
		v.now = func() time.Time {
			return currentTime
		}
		return v, &currentTime
	}

	t.Run("RoundTrip", func(t *testing.T) {
		v, _ := createVerifier(t, Config{Secret: "server-secret", Issuer: "https://id.example"})

		token, err := v.Issue("ext_alice", time.Hour)
		require.NoError(t, err)

		externalID, err := v.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "ext_alice", externalID)

		// Second call is served from the cache.
		externalID, err = v.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "ext_alice", externalID)
	})

	t.Run("Expired", func(t *testing.T) {
		v, now := createVerifier(t, Config{Secret: "server-secret"})

		token, err := v.Issue("ext_alice", time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(token)
		require.NoError(t, err)

		*now = now.Add(2 * time.Minute)
		_, err = v.Verify(token)
		assert.ErrorIs(t, err, models.ErrUnauthenticated)
	})

	t.Run("Rejects", func(t *testing.T) {
		v, _ := createVerifier(t, Config{Secret: "server-secret", Issuer: "https://id.example"})
		other, _ := createVerifier(t, Config{Secret: "other-secret", Issuer: "https://id.example"})
		wrongIssuer, _ := createVerifier(t, Config{Secret: "server-secret", Issuer: "https://evil.example"})

		forged, err := other.Issue("ext_alice", time.Hour)
		require.NoError(t, err)
		foreign, err := wrongIssuer.Issue("ext_alice", time.Hour)
		require.NoError(t, err)
		noSubject, err := v.Issue("", time.Hour)
		require.NoError(t, err)
		noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject: "ext_alice",
			Issuer:  "https://id.example",
		}).SignedString([]byte("server-secret"))
		require.NoError(t, err)
		noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   "ext_alice",
			ExpiresAt: jwt.NewNumericDate(time.Unix(t0Unix, 0).Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		tokens := map[string]string{
			"empty":        "",
			"garbage":      "not-a-token",
			"bad secret":   forged,
			"wrong issuer": foreign,
			"no subject":   noSubject,
			"no expiry":    noExpiry,
			"none alg":     noneAlg,
		}
		for name, token := range tokens {
			t.Run(name, func(t *testing.T) {
				_, err := v.Verify(token)
				assert.ErrorIs(t, err, models.ErrUnauthenticated)
			})
		}
	})

	t.Run("ConfigValidate", func(t *testing.T) {
		_, err := NewVerifier(context.Background(), Config{})
		assert.Error(t, err)

		cfg := Config{Secret: "s"}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, DefaultCacheTTL, cfg.CacheTTL)

		cfg = Config{Secret: "s", CacheTTL: -time.Second}
		assert.Error(t, cfg.Validate())
	})
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, "abc"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookie, Value: "def"}) }, "def"},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=ghi" }, "ghi"},
		{"header wins", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer abc")
			r.URL.RawQuery = "token=ghi"
		}, "abc"},
		{"non bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Basic xyz") }, ""},
		{"none", func(r *http.Request) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/live", nil)
			tt.setup(r)
			assert.Equal(t, tt.want, TokenFromRequest(r))
		})
	}
}
