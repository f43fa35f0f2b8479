package v1

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/config"
)

type ctxKey string

const (
	ctxKeyActor    ctxKey = "actor"
	ctxKeyBusiness ctxKey = "business"
)

// ActorHeader carries the actor id when JWT auth is disabled.
const ActorHeader = "X-Actor-ID"

type JWTClaims struct {
	Issuer    string `json:"iss,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Audience  any    `json:"aud,omitempty"` // string or []string
	ExpiresAt int64  `json:"exp,omitempty"`
	NotBefore int64  `json:"nbf,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
}

func parseBearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	if !strings.HasPrefix(h, "Bearer ") && !strings.HasPrefix(h, "bearer ") {
		return "", false
	}
	return strings.TrimSpace(h[len("Bearer "):]), true
}

func base64URLDecode(s string) ([]byte, error) {
	// JWT uses base64url without padding
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func verifyHS256(token, secret string) (JWTClaims, error) {
	var empty JWTClaims
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return empty, errors.New("invalid token format")
	}
	headerB, err := base64URLDecode(parts[0])
	if err != nil {
		return empty, errors.New("bad header b64")
	}
	payloadB, err := base64URLDecode(parts[1])
	if err != nil {
		return empty, errors.New("bad payload b64")
	}
	sigB, err := base64URLDecode(parts[2])
	if err != nil {
		return empty, errors.New("bad signature b64")
	}

	var hdr struct{ Alg, Typ string }
	if err := json.Unmarshal(headerB, &hdr); err != nil {
		return empty, errors.New("bad header json")
	}
	if !strings.EqualFold(hdr.Alg, "HS256") {
		return empty, errors.New("unsupported alg")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sigB, mac.Sum(nil)) {
		return empty, errors.New("invalid signature")
	}

	var claims JWTClaims
	if err := json.Unmarshal(payloadB, &claims); err != nil {
		return empty, errors.New("bad claims json")
	}
	return claims, nil
}

func audContains(aud any, expected string) bool {
	if expected == "" {
		return true
	}
	switch v := aud.(type) {
	case string:
		return strings.EqualFold(v, expected)
	case []any:
		for _, it := range v {
			if s, ok := it.(string); ok && strings.EqualFold(s, expected) {
				return true
			}
		}
	}
	return false
}

// checkClaims validates time, issuer and audience and returns the subject as actor id.
func checkClaims(c JWTClaims, cfg config.JWTConfig, now time.Time) (uuid.UUID, error) {
	ts := now.Unix()
	if c.NotBefore != 0 && ts < c.NotBefore {
		return uuid.Nil, errors.New("token not yet valid")
	}
	if c.ExpiresAt != 0 && ts >= c.ExpiresAt {
		return uuid.Nil, errors.New("token expired")
	}
	if cfg.Issuer != "" && !strings.EqualFold(c.Issuer, cfg.Issuer) {
		return uuid.Nil, errors.New("issuer mismatch")
	}
	if cfg.Audience != "" && !audContains(c.Audience, cfg.Audience) {
		return uuid.Nil, errors.New("audience mismatch")
	}
	actor, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, errors.New("sub is not an actor id")
	}
	return actor, nil
}

// actorMiddleware resolves the acting user. With a JWT secret configured the
// bearer token's sub is the actor and requests without a valid token get 401;
// otherwise the X-Actor-ID header is trusted. Health, metrics and dictionary
// routes are open.
func actorMiddleware(cfg config.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/healthz", r.URL.Path == "/readyz", r.URL.Path == "/metrics",
				strings.HasPrefix(r.URL.Path, "/v1/dictionary/"):
				next.ServeHTTP(w, r)
				return
			}
			var actor uuid.UUID
			if cfg.Secret != "" {
				tok, ok := parseBearerToken(r)
				if !ok {
					writeErr(w, http.StatusUnauthorized, "missing bearer token", "unauthorized")
					return
				}
				claims, err := verifyHS256(tok, cfg.Secret)
				if err == nil {
					actor, err = checkClaims(claims, cfg, time.Now())
				}
				if err != nil {
					writeErr(w, http.StatusUnauthorized, err.Error(), "unauthorized")
					return
				}
			} else if raw := strings.TrimSpace(r.Header.Get(ActorHeader)); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					writeErr(w, http.StatusBadRequest, "invalid "+ActorHeader, "invalid")
					return
				}
				actor = id
			}
			ctx := context.WithValue(r.Context(), ctxKeyActor, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func actorFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyActor).(uuid.UUID)
	return id
}
