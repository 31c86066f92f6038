// Package middleware содержит HTTP middleware сервиса проверки выхода.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/scango-gate/internal/model"
)

type contextKey string

const staffKey contextKey = "staff"

const (
	staffCookieName = "staff_token"
	staffCookieTTL  = 12 * time.Hour
)

// AuthMiddleware проверяет подписанный cookie сотрудника и его роль.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Пустой ключ заменяется случайным: выданные cookie действуют до перезапуска процесса.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// RequireRole пропускает запрос, если сотрудник вошёл с указанной ролью или с ролью ADMIN.
func (a *AuthMiddleware) RequireRole(role model.StaffRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(staffCookieName)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			staff, ok := a.parseCookie(cookie.Value)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			if staff.Role != role && staff.Role != model.RoleAdmin {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), staffKey, staff)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SetStaffCookie устанавливает cookie сотрудника.
func (a *AuthMiddleware) SetStaffCookie(w http.ResponseWriter, staff model.Staff) {
	cookie := &http.Cookie{
		Name:     staffCookieName,
		Value:    a.sign(staff.ID + "|" + string(staff.Role)),
		Path:     "/",
		Expires:  time.Now().Add(staffCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return payload + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (model.Staff, bool) {
	dot := strings.LastIndex(cookieValue, ".")
	if dot <= 0 {
		return model.Staff{}, false
	}

	payload := cookieValue[:dot]
	if !hmac.Equal([]byte(cookieValue), []byte(a.sign(payload))) {
		return model.Staff{}, false
	}

	id, role, ok := strings.Cut(payload, "|")
	if !ok || id == "" {
		return model.Staff{}, false
	}

	staff := model.Staff{ID: id, Role: model.StaffRole(role)}
	if !staff.Role.Valid() {
		return model.Staff{}, false
	}

	return staff, true
}

// StaffFromContext извлекает сотрудника из контекста запроса.
func StaffFromContext(ctx context.Context) (model.Staff, bool) {
	staff, ok := ctx.Value(staffKey).(model.Staff)
	return staff, ok
}
