package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"
)

// Auth проверяет административный bearer-токен по bcrypt-хешу из API_TOKEN_HASH
type Auth struct {
	hash []byte
	log  *slog.Logger

	// sha256 последнего проверенного токена, чтобы не платить за bcrypt на каждый запрос
	verified atomic.Pointer[[sha256.Size]byte]
}

func New(tokenHash string, log *slog.Logger) *Auth {
	a := &Auth{
		hash: []byte(strings.TrimSpace(tokenHash)),
		log:  log.With("component", "auth_middleware"),
	}
	if len(a.hash) == 0 {
		a.log.Warn("API_TOKEN_HASH is empty, admin API is not protected")
	}
	return a
}

// Enabled сообщает, требуется ли токен
func (a *Auth) Enabled() bool {
	return len(a.hash) > 0
}

// Check проверяет значение заголовка Authorization
func (a *Auth) Check(header string) bool {
	if !a.Enabled() {
		return true
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	if cached := a.verified.Load(); cached != nil && subtle.ConstantTimeCompare(cached[:], sum[:]) == 1 {
		return true
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return false
	}
	a.verified.Store(&sum)
	return true
}

// Middleware возвращает middleware для Huma с сигнатурой func(ctx Context, next func(Context))
func (a *Auth) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if !a.Check(ctx.Header("Authorization")) {
			a.log.Warn("Unauthorized request", "path", ctx.URL().Path, "remote_addr", ctx.RemoteAddr())
			ctx.SetHeader("Content-Type", "application/json")
			ctx.SetStatus(http.StatusUnauthorized)
			if err := json.NewEncoder(ctx.BodyWriter()).Encode(map[string]string{
				"error": "Unauthorized",
			}); err != nil {
				a.log.Error("Failed to encode auth error", "error", err)
			}
			return
		}
		next(ctx)
	}
}

// Wrap защищает обычный http.Handler, например websocket-ленту
func (a *Auth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		// браузерный WebSocket не умеет ставить заголовки, поэтому токен допускается в query
		if header == "" {
			if token := r.URL.Query().Get("token"); token != "" {
				header = "Bearer " + token
			}
		}
		if !a.Check(header) {
			a.log.Warn("Unauthorized request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
