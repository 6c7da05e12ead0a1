package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/bill-assistant/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func identityEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetIdentity(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid token", "Bearer " + signToken(t, testSecret, "wx-openid-1", future), http.StatusOK, "wx-openid-1"},
		{"lowercase scheme", "bearer " + signToken(t, testSecret, "wx-openid-1", future), http.StatusOK, "wx-openid-1"},
		{"missing header", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"wrong secret", "Bearer " + signToken(t, "other", "wx-openid-1", future), http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer " + signToken(t, testSecret, "wx-openid-1", time.Now().Add(-time.Minute)), http.StatusUnauthorized, "invalid token"},
		{"empty subject", "Bearer " + signToken(t, testSecret, "", future), http.StatusUnauthorized, "invalid token subject"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			Auth(testSecret)(identityEcho()).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestAuthRejectsNonHMAC(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "wx-openid-1"},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()

	Auth(testSecret)(identityEcho()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type fakeResolver struct {
	ids map[string]int64
	err error
}

func (f *fakeResolver) EnsureUser(_ context.Context, identity string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.ids[identity], nil
}

func TestResolveOwner(t *testing.T) {
	resolver := &fakeResolver{ids: map[string]int64{"wx-openid-1": 42}}
	var got int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetOwnerID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), IdentityKey, "wx-openid-1"))
	rec := httptest.NewRecorder()
	ResolveOwner(resolver, logger.NewNop())(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), got)
}

func TestResolveOwnerFailures(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next must not run")
	})

	t.Run("no identity", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ResolveOwner(&fakeResolver{}, logger.NewNop())(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("store down", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), IdentityKey, "wx-openid-1"))
		rec := httptest.NewRecorder()
		ResolveOwner(&fakeResolver{err: errors.New("db down")}, logger.NewNop())(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotContains(t, rec.Body.String(), "db down")
	})
}

func TestLoggingSetsCorrelationAndFlushes(t *testing.T) {
	var correlationID string
	var flushable bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID = GetCorrelationID(r.Context())
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	Logging(logger.NewNop())(next).ServeHTTP(rec, req)

	assert.Equal(t, "corr-1", correlationID)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
	assert.True(t, flushable)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestLoggingGeneratesCorrelationID(t *testing.T) {
	rec := httptest.NewRecorder()
	Logging(logger.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get("X-Correlation-ID"), 36)
}

func TestRateLimitByIdentity(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(identity string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), IdentityKey, identity))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusTooManyRequests, call("a"))
	assert.Equal(t, http.StatusOK, call("b"))
}

func TestValidateMessageText(t *testing.T) {
	assert.NoError(t, ValidateMessageText(""))
	assert.NoError(t, ValidateMessageText("今天打车花了35元"))
	assert.Error(t, ValidateMessageText(strings.Repeat("账", maxMessageRunes+1)))
	assert.Error(t, ValidateMessageText(string([]byte{0xff, 0xfe})))
}

func TestParseID(t *testing.T) {
	id, err := ParseID("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, s := range []string{"", "0", "-3", "abc", "1.5"} {
		_, err := ParseID(s)
		assert.Error(t, err, s)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
