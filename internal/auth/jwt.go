package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/erauner12/productsync/internal/catalog"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const CtxUserID ctxKey = "uid"

// DevTokenPrefix marks a live-channel token that carries a raw subject.
// Only honoured when DevMode is enabled, mirroring X-Debug-Sub for HTTP.
const DevTokenPrefix = "dev:"

var (
	// ErrMissingSubject is returned when a token has no usable "sub" claim
	ErrMissingSubject = errors.New("token has no subject")
	// ErrInvalidToken is returned when the signature or claims do not verify
	ErrInvalidToken = errors.New("invalid token")
)

// JWTCfg holds JWT authentication configuration
type JWTCfg struct {
	HS256Secret string // HMAC secret for HS256 tokens
	Issuer      string // Expected "iss" claim; empty skips the check
	DevMode     bool   // Allow X-Debug-Sub header (DANGEROUS: only for local dev)
}

// ParseToken validates an HS256 token and returns its subject
func ParseToken(cfg JWTCfg, tok string) (string, error) {
	var opts []jwt.ParserOption
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		// Verify signing method
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.HS256Secret), nil
	}, opts...)
	if err != nil || !t.Valid {
		return "", errors.Join(ErrInvalidToken, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrMissingSubject
	}
	return sub, nil
}

// IssueToken signs an HS256 token for sub that expires after ttl
func IssueToken(secret, issuer, sub string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if issuer != "" {
		claims.Issuer = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Authenticate resolves a live-channel authorization token to an owner id
func (cfg JWTCfg) Authenticate(tok string) (string, error) {
	if cfg.DevMode && strings.HasPrefix(tok, DevTokenPrefix) {
		sub := strings.TrimPrefix(tok, DevTokenPrefix)
		if sub == "" {
			return "", ErrMissingSubject
		}
		log.Debug().Str("sub", sub).Msg("using dev live token")
		return sub, nil
	}
	return ParseToken(cfg, tok)
}

// Middleware creates HTTP middleware for JWT authentication
// Supports two modes:
// 1. Production: Bearer token with JWT validation
// 2. Development: X-Debug-Sub header (ONLY when DevMode=true)
func Middleware(cfg JWTCfg) func(http.Handler) http.Handler {
	// Log warning if dev mode is enabled
	if cfg.DevMode {
		log.Warn().Msg("SECURITY WARNING: DevMode enabled - X-Debug-Sub header will bypass JWT authentication")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token from Authorization header
			tok := ""
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}

			sub := ""

			// Development mode: accept X-Debug-Sub ONLY if DevMode is enabled and no token present
			if cfg.DevMode && tok == "" {
				sub = r.Header.Get("X-Debug-Sub")
				if sub != "" {
					log.Debug().Str("sub", sub).Msg("using X-Debug-Sub header (dev mode)")
				}
			}

			if tok != "" {
				s, err := ParseToken(cfg, tok)
				if err != nil {
					log.Warn().Err(err).Msg("jwt validation failed")
					writeUnauthorized(w)
					return
				}
				sub = s
			}

			// Require subject (either from JWT or debug header)
			if sub == "" {
				log.Warn().Msg("missing subject (no JWT sub or X-Debug-Sub header)")
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
		})
	}
}

// unauthorizedResp has the shape of every other API error body
type unauthorizedResp struct {
	Error         string       `json:"error"`
	Kind          catalog.Kind `json:"kind"`
	CorrelationID string       `json:"correlationId,omitempty"`
}

// writeUnauthorized answers 401. The correlation id is the one the
// correlation middleware already put on the response.
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(unauthorizedResp{
		Error:         "unauthorized",
		Kind:          catalog.KindUnauthorized,
		CorrelationID: w.Header().Get("X-Correlation-ID"),
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// WithUserID stores the authenticated owner id in ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, CtxUserID, userID)
}

// UserID extracts the authenticated user ID from request context
// Returns empty string if not authenticated (should never happen after middleware)
func UserID(ctx context.Context) string {
	if v := ctx.Value(CtxUserID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
