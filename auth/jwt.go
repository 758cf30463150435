package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/jwtauth"

	"github.com/campusweb/sso-portal-api/env"
	"github.com/campusweb/sso-portal-api/types"
	"github.com/campusweb/sso-portal-api/util"
)

// JWTManager contains the secret loaded from the environment
type JWTManager struct {
	Auth       *jwtauth.JWTAuth
	secret     []byte
	BypassAuth bool
}

// Claims contains the data used to store a JWT's associated session info
type Claims struct {
	Username     string    `json:"sub"`
	DisplayName  string    `json:"name"`
	GivenName    string    `json:"given_name"`
	FamilyName   string    `json:"family_name"`
	IssuedAt     time.Time `json:"iat"`
	ExpiresAfter *int64    `json:"portal:exa"`
}

// NewClaims builds the claims for a session
func NewClaims(session types.Session) *Claims {
	return &Claims{
		Username:     session.Username,
		DisplayName:  session.DisplayName,
		GivenName:    session.GivenName,
		FamilyName:   session.FamilyName,
		IssuedAt:     session.IssuedAt,
		ExpiresAfter: session.ExpiresAfter,
	}
}

// Session extracts the types.Session value from the JWT claims
func (c *Claims) Session() *types.Session {
	return &types.Session{
		Username:     c.Username,
		DisplayName:  c.DisplayName,
		GivenName:    c.GivenName,
		FamilyName:   c.FamilyName,
		IssuedAt:     c.IssuedAt,
		ExpiresAfter: c.ExpiresAfter,
	}
}

// Valid determines if the claims struct is valid by ensuring it has a
// username and that the issued at date + expires after is not in the past
func (c *Claims) Valid() error {
	if c.Username == "" {
		return errors.New("claims cannot have empty username")
	}

	// Make sure the claim has not expired
	if c.ExpiresAfter != nil {
		expiresAt := c.IssuedAt.Add(time.Duration(*c.ExpiresAfter) * time.Hour)
		if expiresAt.Before(time.Now()) {
			return errors.New("claims are expired")
		}
	}

	return nil
}

// NewJWTManager creates a new JWTManager
// and loads the secret from the environment
func NewJWTManager() (*JWTManager, error) {
	jwtSecretStr, err := env.GetEnv("auth JWT secret key", "AUTH_JWT_SECRET")
	if err != nil {
		return nil, err
	}

	// Try to see if the server should bypass authentication
	bypassAuth := false
	if value, ok := os.LookupEnv("AUTH_BYPASS"); ok {
		if strings.TrimSpace(value) == "1" {
			bypassAuth = true
		}
	}

	// Parse the string into bytes
	encoding := base64.StdEncoding.WithPadding(base64.StdPadding)
	secretBytes, err := encoding.DecodeString(jwtSecretStr)
	if err != nil {
		return nil, err
	}

	// Create the instance of the auth used for middleware
	tokenAuth := jwtauth.New("HS256", secretBytes, nil)

	return &JWTManager{
		Auth:       tokenAuth,
		secret:     secretBytes,
		BypassAuth: bypassAuth,
	}, nil
}

// IssueJWT creates a new JWT for the given session
func (m *JWTManager) IssueJWT(session types.Session) *jwt.Token {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, NewClaims(session))
}

// SignToken signs a JWT using the internal secret
func (m *JWTManager) SignToken(token *jwt.Token) (string, error) {
	// Sign and get the complete encoded token as a string
	// using the secret
	tokenString, err := token.SignedString(m.secret)
	if err != nil {
		return "", err
	}

	return tokenString, err
}

type key int

// BypassAuthContextKey is the key to access the BypassAuth boolean field
// on request contexts that are processed by the Authenticated middleware
const BypassAuthContextKey key = iota

// Authenticated handles seeking, verifying, and validating JWT tokens,
// sending appropriate status codes upon failure.
func (m *JWTManager) Authenticated() func(http.Handler) http.Handler {
	// Seek, verify and validate JWT tokens
	verifier := jwtauth.Verify(m.Auth, jwtauth.TokenFromHeader)
	return func(next http.Handler) http.Handler {
		if m.BypassAuth {
			// Skip authentication
			verified := verifier(next)
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				// Attach a value to the context
				ctx := context.WithValue(r.Context(), BypassAuthContextKey, true)

				// Pass it through
				verified.ServeHTTP(w, r.WithContext(ctx))
			})
		}

		// Compose the verifier and authenticator functions
		return verifier(authenticator(next))
	}
}

// FromContext extracts the token and claims from the context
func FromContext(ctx context.Context) (*jwt.Token, *Claims, error) {
	token, _ := ctx.Value(jwtauth.TokenCtxKey).(*jwt.Token)
	err, _ := ctx.Value(jwtauth.ErrorCtxKey).(error)

	var claims *Claims = nil
	if token != nil {
		switch tokenClaims := token.Claims.(type) {
		case *Claims:
			claims = tokenClaims
		case jwt.MapClaims:
			// The verifier decodes with the default parser,
			// which always produces MapClaims
			claims, err = claimsFromMap(tokenClaims)
		default:
			err = errors.New("invalid claim type")
		}
	}

	return token, claims, err
}

// claimsFromMap rebuilds the typed claims from a decoded token
// and re-applies their validity rules
func claimsFromMap(mapClaims jwt.MapClaims) (*Claims, error) {
	claims := &Claims{}
	if value, ok := mapClaims["sub"].(string); ok {
		claims.Username = value
	}
	if value, ok := mapClaims["name"].(string); ok {
		claims.DisplayName = value
	}
	if value, ok := mapClaims["given_name"].(string); ok {
		claims.GivenName = value
	}
	if value, ok := mapClaims["family_name"].(string); ok {
		claims.FamilyName = value
	}
	if value, ok := mapClaims["iat"].(string); ok {
		issuedAt, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, errors.New("claims have a malformed issued at date")
		}
		claims.IssuedAt = issuedAt
	}
	if value, ok := mapClaims["portal:exa"].(float64); ok {
		expiresAfter := int64(value)
		claims.ExpiresAfter = &expiresAfter
	}

	if err := claims.Valid(); err != nil {
		return nil, err
	}

	return claims, nil
}

// authenticator sends an error response if token validation failed
func authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _, err := FromContext(r.Context())

		if err != nil {
			unauthorized(w)
			return
		}

		if token == nil || !token.Valid {
			unauthorized(w)
			return
		}

		// Token is authenticated, pass it through
		next.ServeHTTP(w, r)
	})
}

// unauthorized sends a response message in the case that validation fails
func unauthorized(w http.ResponseWriter) {
	util.ErrorWithCode(w, errors.New("user is not authorized to access resource"),
		http.StatusUnauthorized)
}
