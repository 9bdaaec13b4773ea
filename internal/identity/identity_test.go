package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims Claims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTResolver(t *testing.T) {
	r := NewJWTResolver(testSecret)
	ctx := context.Background()
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	t.Run("valid token", func(t *testing.T) {
		tok := signToken(t, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "uid-1", ExpiresAt: future},
			Email:            "Bob@X.com",
		}, testSecret)

		id, err := r.Resolve(ctx, tok)
		require.NoError(t, err)
		assert.Equal(t, "uid-1", id.UserID)
		assert.Equal(t, "bob@x.com", id.Identifier())
	})

	t.Run("subject only", func(t *testing.T) {
		tok := signToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "uid-2", ExpiresAt: future}}, testSecret)
		id, err := r.Resolve(ctx, tok)
		require.NoError(t, err)
		assert.Equal(t, "uid-2", id.Identifier())
	})

	t.Run("expired", func(t *testing.T) {
		tok := signToken(t, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "uid-1", ExpiresAt: past},
		}, testSecret)
		_, err := r.Resolve(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok := signToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "uid-1"}}, "other")
		_, err := r.Resolve(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := r.Resolve(ctx, "not-a-token")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("no subject", func(t *testing.T) {
		tok := signToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}, testSecret)
		_, err := r.Resolve(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("anonymous identifier", func(t *testing.T) {
		for _, sub := range []string{"unknown", "UNKNOWN"} {
			tok := signToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: sub, ExpiresAt: future}}, testSecret)
			_, err := r.Resolve(ctx, tok)
			assert.ErrorIs(t, err, ErrInvalidCredential, sub)
		}

		tok := signToken(t, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "uid-3", ExpiresAt: future},
			Email:            "Unknown",
		}, testSecret)
		_, err := r.Resolve(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})
}

func TestLookupResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts:lookup", r.URL.Path)
		assert.Equal(t, "api-key", r.URL.Query().Get("key"))

		var body lookupRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		switch body.IDToken {
		case "good":
			_, _ = w.Write([]byte(`{"users":[{"localId":"uid-9","email":"alice@x.com"}]}`))
		case "anonymous":
			_, _ = w.Write([]byte(`{"users":[{"localId":"unknown"}]}`))
		case "disabled":
			_, _ = w.Write([]byte(`{"users":[{"localId":"uid-8","email":"eve@x.com","disabled":true}]}`))
		case "broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"INVALID_ID_TOKEN"}}`))
		}
	}))
	defer srv.Close()

	r := NewLookupResolver(srv.URL+"/", "api-key")
	ctx := context.Background()

	id, err := r.Resolve(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", id.Identifier())
	assert.Equal(t, "uid-9", id.UserID)

	_, err = r.Resolve(ctx, "expired")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = r.Resolve(ctx, "disabled")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = r.Resolve(ctx, "anonymous")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = r.Resolve(ctx, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredential)
}

func TestDisabledAndContext(t *testing.T) {
	id, err := Disabled{}.Resolve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Nil(t, id)

	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))
	assert.Equal(t, "", FromContext(ctx).Identifier())

	ctx = WithIdentity(ctx, &Identity{Email: "a@b.c"})
	assert.Equal(t, "a@b.c", FromContext(ctx).Identifier())
}
