package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, c jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("test"))
	require.NoError(t, err)
	return s
}

func TestUnverifiedVerifier(t *testing.T) {
	v := UnverifiedVerifier{}

	id, err := v.Identify(context.Background(), signed(t, jwt.MapClaims{"sub": "user-1", "tenant_id": "tenant-1"}))
	require.NoError(t, err)
	assert.Equal(t, Identity{TenantID: "tenant-1", ActorID: "user-1"}, id)

	_, err = v.Identify(context.Background(), signed(t, jwt.MapClaims{"sub": "user-1"}))
	assert.ErrorContains(t, err, "tenant_id")

	_, err = v.Identify(context.Background(), signed(t, jwt.MapClaims{"tenant_id": "tenant-1"}))
	assert.ErrorContains(t, err, "subject")

	_, err = v.Identify(context.Background(), "not-a-jwt")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	var seen Identity
	h := Middleware(UnverifiedVerifier{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		assert.Equal(t, "user-1", UserID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"no tenant", "Bearer " + signed(t, jwt.MapClaims{"sub": "user-1"}), http.StatusUnauthorized},
		{"ok", "Bearer " + signed(t, jwt.MapClaims{"sub": "user-1", "tenant_id": "tenant-1"}), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "tenant-1", seen.TenantID)
}

func TestFromContextEmpty(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	assert.Empty(t, UserID(context.Background()))
}
