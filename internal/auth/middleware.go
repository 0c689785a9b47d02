package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/getsentry/sentry-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Validator verifies bearer tokens
type Validator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// ContextKey is the type of keys stored in the request context by this package
type ContextKey string

const (
	ClaimsKey ContextKey = "auth_claims"
)

// Claims are the JWT claims an operator token carries
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// JWTValidator checks signature, expiry and the optional issuer and audience
type JWTValidator struct {
	keyfunc jwt.Keyfunc
	methods []string
	opts    []jwt.ParserOption
}

// New returns the validator for cfg. When neither a secret nor a JWKS URL is
// configured it logs a warning and returns a nil Validator, which the
// middleware treats as "authentication disabled".
func New(ctx context.Context, cfg Config) (Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	v := &JWTValidator{}
	switch cfg.Mode() {
	case ModeDisabled:
		log.Warn().Msg("AUTH_JWT_SECRET and AUTH_JWKS_URL are unset: authentication is disabled")
		return nil, nil
	case ModeHS256:
		secret := []byte(cfg.Secret)
		v.keyfunc = func(*jwt.Token) (any, error) { return secret, nil }
		v.methods = []string{jwt.SigningMethodHS256.Name}
	case ModeJWKS:
		jwks, err := newJWKS(ctx, cfg.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise JWKS: %w", err)
		}
		v.keyfunc = jwks.Keyfunc
		v.methods = []string{jwt.SigningMethodRS256.Name, jwt.SigningMethodES256.Name}
	}

	v.opts = []jwt.ParserOption{jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.opts = append(v.opts, jwt.WithAudience(cfg.Audience))
	}

	log.Info().Str("mode", string(cfg.Mode())).Msg("API authentication enabled")
	return v, nil
}

func newJWKS(ctx context.Context, jwksURL string) (keyfunc.Keyfunc, error) {
	override := keyfunc.Override{
		Client:          &http.Client{Timeout: 5 * time.Second},
		HTTPTimeout:     5 * time.Second,
		RefreshInterval: 10 * time.Minute,
		RefreshErrorHandlerFunc: func(url string) func(ctx context.Context, err error) {
			return func(ctx context.Context, err error) {
				log.Error().Err(err).Str("jwks_url", url).Msg("JWKS refresh failed")
			}
		},
	}

	childCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return keyfunc.NewDefaultOverrideCtx(childCtx, []string{jwksURL}, override)
}

// ValidateToken parses and verifies tokenString
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("request context cancelled: %w", err)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyfunc, v.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ExtractBearerToken reads the token from the Authorization header
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("missing or invalid Authorization header")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}

// Middleware requires a valid bearer token. A nil validator lets every
// request through.
func Middleware(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := ExtractBearerToken(r)
			if err != nil {
				writeAuthError(w, r, "Missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := v.ValidateToken(r.Context(), tokenString)
			if err != nil {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("JWT validation failed")

				message := "Invalid authentication token"
				status := http.StatusUnauthorized
				switch {
				case errors.Is(err, jwt.ErrTokenExpired):
					message = "Authentication token has expired"
				case errors.Is(err, jwt.ErrTokenSignatureInvalid):
					message = "Invalid token signature"
					sentry.CaptureException(err)
				case errors.Is(err, jwt.ErrTokenUnverifiable):
					message = "Unable to verify token signing key"
					sentry.CaptureException(err)
				}

				writeAuthError(w, r, message, status)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// ContextWithClaims stores claims on ctx
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// ClaimsFromContext returns the verified claims, if any
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// Subject returns the token subject or "anonymous" when auth is disabled
func Subject(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok && claims.Subject != "" {
		return claims.Subject
	}
	return "anonymous"
}

// writeAuthError writes the API error envelope for authentication failures
func writeAuthError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	requestID := w.Header().Get("X-Request-ID")

	code := "UNAUTHORISED"
	if statusCode >= http.StatusInternalServerError {
		code = "INTERNAL_ERROR"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"status":     statusCode,
		"message":    message,
		"code":       code,
		"request_id": requestID,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode unauthorised response")
	}
}
