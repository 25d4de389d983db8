package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestAuthMiddleware_WithValidToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret", nil)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetUserIDFromContext(r.Context())
		if !ok {
			t.Fatalf("user id not in context")
		}
		if id != 42 {
			t.Fatalf("user id from context = %d, want 42", id)
		}
	})

	token, err := m.IssueToken(42, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret", nil)
	other := NewAuthMiddleware("other-secret", nil)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: 42,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredToken, err := expired.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign expired token: %v", err)
	}

	foreignToken, err := other.IssueToken(42, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	noUser, err := m.IssueToken(0, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 42})
	noneToken, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "garbage", header: "Bearer not-a-token"},
		{name: "expired", header: "Bearer " + expiredToken},
		{name: "foreign secret", header: "Bearer " + foreignToken},
		{name: "no user id", header: "Bearer " + noUser},
		{name: "alg none", header: "Bearer " + noneToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			m.Middleware(next).ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestProperty_IssuedTokensRoundTrip(t *testing.T) {
	m := NewAuthMiddleware("", nil)
	properties := gopter.NewProperties(nil)

	properties.Property("issued token authenticates the same user", prop.ForAll(
		func(userID int64) bool {
			token, err := m.IssueToken(userID, time.Hour)
			if err != nil {
				return false
			}
			got, err := m.parseToken(token)
			return err == nil && got == userID
		},
		gen.Int64Range(1, 1<<52),
	))

	properties.TestingRun(t)
}

func TestAdminOnly(t *testing.T) {
	guard := AdminOnly([]int64{1, 2})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		userID int64
		authed bool
		want   int
	}{
		{name: "admin", userID: 2, authed: true, want: http.StatusNoContent},
		{name: "regular user", userID: 3, authed: true, want: http.StatusForbidden},
		{name: "unauthenticated", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.authed {
				r = r.WithContext(WithUserID(r.Context(), tt.userID))
			}
			w := httptest.NewRecorder()

			guard(next).ServeHTTP(w, r)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
