// Package middleware содержит HTTP middleware API витрины.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const userIDKey contextKey = "userID"

// Claims описывает утверждения токена доступа. uid содержит идентификатор пользователя в мессенджере.
type Claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет JWT из заголовка Authorization.
type AuthMiddleware struct {
	secretKey []byte
	logger    *zap.Logger
}

// NewAuthMiddleware создаёт AuthMiddleware. При пустом секрете генерируется случайный ключ,
// и токены перестают быть действительными после перезапуска.
func NewAuthMiddleware(secret string, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}

	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
		logger.Warn("JWT secret is not set, using a random key")
	}

	return &AuthMiddleware{
		secretKey: key,
		logger:    logger,
	}
}

// Middleware проверяет токен и добавляет идентификатор пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		userID, err := a.parseToken(tokenString)
		if err != nil {
			a.logger.Debug("token rejected", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IssueToken подписывает токен для пользователя со сроком действия ttl. Нулевой ttl означает бессрочный токен.
func (a *AuthMiddleware) IssueToken(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
}

func (a *AuthMiddleware) parseToken(tokenString string) (int64, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return a.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, err
	}
	if claims.UserID <= 0 {
		return 0, errors.New("token has no user id")
	}
	return claims.UserID, nil
}

// AdminOnly пропускает только пользователей из списка администраторов.
// Должен стоять после AuthMiddleware.
func AdminOnly(adminIDs []int64) func(http.Handler) http.Handler {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserIDFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if _, ok := admins[userID]; !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// WithUserID кладёт идентификатор пользователя в контекст.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}
