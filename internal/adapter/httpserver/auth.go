package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

const authCookieName = "access_token"

// TokenAuth mints and verifies signed bearer tokens of the form
// userID.expiryUnix.signature. Stateless on purpose: the gateway is the only
// service that sees them.
type TokenAuth struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenAuth builds a TokenAuth from the shared secret.
func NewTokenAuth(secret string, ttl time.Duration) *TokenAuth {
	return &TokenAuth{secret: []byte(secret), ttl: ttl}
}

// Mint issues a token for userID valid for the configured TTL.
func (a *TokenAuth) Mint(userID string) string {
	expiry := strconv.FormatInt(time.Now().Add(a.ttl).Unix(), 10)
	return userID + "." + expiry + "." + a.sign(userID, expiry)
}

// Verify checks signature and expiry and returns the embedded user id.
func (a *TokenAuth) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("op=auth.Verify: %w", domain.ErrUnauthorized)
	}
	userID, expiry, sig := parts[0], parts[1], parts[2]
	want := a.sign(userID, expiry)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return "", fmt.Errorf("op=auth.Verify: bad signature: %w", domain.ErrUnauthorized)
	}
	exp, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil || time.Now().Unix() >= exp {
		return "", fmt.Errorf("op=auth.Verify: expired: %w", domain.ErrUnauthorized)
	}
	return userID, nil
}

func (a *TokenAuth) sign(userID, expiry string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(userID + "." + expiry))
	return hex.EncodeToString(mac.Sum(nil))
}

type userContextKey struct{}

// UserFromContext returns the authenticated user id, empty if anonymous.
func UserFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userContextKey{}).(string); ok {
		return v
	}
	return ""
}

// Middleware authenticates via Authorization: Bearer or the session cookie
// and stores the user id in the request context.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if c, err := r.Cookie(authCookieName); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		userID, err := a.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// Lockout counts failed admin logins per client IP in Redis and locks the IP
// out once the attempt budget is spent.
type Lockout struct {
	rdb      *redis.Client
	attempts int
	duration time.Duration
}

// NewLockout builds a Lockout over the shared Redis client.
func NewLockout(rdb *redis.Client, attempts int, duration time.Duration) *Lockout {
	return &Lockout{rdb: rdb, attempts: attempts, duration: duration}
}

func lockoutKey(ip string) string { return "login_attempts:" + ip }

// Locked reports whether the IP has exceeded its attempt budget.
func (l *Lockout) Locked(ctx domain.Context, ip string) (bool, error) {
	n, err := l.rdb.Get(ctx, lockoutKey(ip)).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("op=lockout.Locked: %w", err)
	}
	return n >= l.attempts, nil
}

// Fail records one failed attempt and refreshes the lockout window.
func (l *Lockout) Fail(ctx domain.Context, ip string) error {
	pipe := l.rdb.TxPipeline()
	pipe.Incr(ctx, lockoutKey(ip))
	pipe.Expire(ctx, lockoutKey(ip), l.duration)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=lockout.Fail: %w", err)
	}
	return nil
}

// Reset clears the counter after a successful login.
func (l *Lockout) Reset(ctx domain.Context, ip string) error {
	if err := l.rdb.Del(ctx, lockoutKey(ip)).Err(); err != nil {
		return fmt.Errorf("op=lockout.Reset: %w", err)
	}
	return nil
}

// VerifyPassword compares a bcrypt hash against a candidate password.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
