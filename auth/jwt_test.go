package auth

import (
	"context"
	"encoding/base64"
	"os"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/jwtauth"

	"github.com/campusweb/sso-portal-api/types"
)

func withSecret(t *testing.T, secret string) {
	t.Helper()
	encoded := base64.StdEncoding.EncodeToString([]byte(secret))
	os.Setenv("AUTH_JWT_SECRET", encoded)
	t.Cleanup(func() {
		os.Unsetenv("AUTH_JWT_SECRET")
	})
}

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	os.Unsetenv("AUTH_JWT_SECRET")
	_, err := NewJWTManager()
	if err == nil {
		t.Error("expected an error when AUTH_JWT_SECRET is missing")
	}
}

func TestNewJWTManagerRejectsInvalidSecret(t *testing.T) {
	os.Setenv("AUTH_JWT_SECRET", "not!base64@@")
	defer os.Unsetenv("AUTH_JWT_SECRET")

	_, err := NewJWTManager()
	if err == nil {
		t.Error("expected an error for a non-base64 secret")
	}
}

func TestIssueAndSignToken(t *testing.T) {
	withSecret(t, "super-secret-signing-key")

	manager, err := NewJWTManager()
	if err != nil {
		t.Fatalf("could not create manager: %v", err)
	}

	expiresAfter := int64(24)
	session := types.Session{
		Username:     "jdoe3",
		DisplayName:  "Jane Doe",
		GivenName:    "Jane",
		FamilyName:   "Doe",
		IssuedAt:     time.Now(),
		ExpiresAfter: &expiresAfter,
	}

	signed, err := manager.SignToken(manager.IssueJWT(session))
	if err != nil {
		t.Fatalf("could not sign token: %v", err)
	}

	parsed, err := jwt.ParseWithClaims(signed, &Claims{},
		func(token *jwt.Token) (interface{}, error) {
			return manager.secret, nil
		})
	if err != nil {
		t.Fatalf("could not parse signed token: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("parsed token is not valid")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		t.Fatal("parsed claims have the wrong type")
	}
	if claims.Username != "jdoe3" {
		t.Errorf("claims username is %q, expected %q", claims.Username, "jdoe3")
	}
	if claims.DisplayName != "Jane Doe" {
		t.Errorf("claims display name is %q, expected %q", claims.DisplayName, "Jane Doe")
	}

	roundTrip := claims.Session()
	if roundTrip.GivenName != "Jane" || roundTrip.FamilyName != "Doe" {
		t.Errorf("session name is %q %q, expected %q %q",
			roundTrip.GivenName, roundTrip.FamilyName, "Jane", "Doe")
	}
}

func TestFromContextDecodedToken(t *testing.T) {
	withSecret(t, "super-secret-signing-key")

	manager, err := NewJWTManager()
	if err != nil {
		t.Fatalf("could not create manager: %v", err)
	}

	expiresAfter := int64(24)
	session := types.Session{
		Username:     "jdoe3",
		DisplayName:  "Jane Doe",
		IssuedAt:     time.Now(),
		ExpiresAfter: &expiresAfter,
	}

	signed, err := manager.SignToken(manager.IssueJWT(session))
	if err != nil {
		t.Fatalf("could not sign token: %v", err)
	}

	// Decode the way the verifier middleware does,
	// which loses the typed claims
	decoded, err := manager.Auth.Decode(signed)
	if err != nil {
		t.Fatalf("could not decode signed token: %v", err)
	}
	if _, ok := decoded.Claims.(jwt.MapClaims); !ok {
		t.Fatalf("decoded claims have type %T, expected jwt.MapClaims", decoded.Claims)
	}

	ctx := jwtauth.NewContext(context.Background(), decoded, nil)
	token, claims, err := FromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error from context: %v", err)
	}
	if token == nil || !token.Valid {
		t.Fatal("token from context is not valid")
	}
	if claims == nil {
		t.Fatal("claims from context are nil")
	}
	if claims.Username != "jdoe3" {
		t.Errorf("claims username is %q, expected %q", claims.Username, "jdoe3")
	}
	if claims.DisplayName != "Jane Doe" {
		t.Errorf("claims display name is %q, expected %q", claims.DisplayName, "Jane Doe")
	}
	if claims.ExpiresAfter == nil || *claims.ExpiresAfter != 24 {
		t.Errorf("claims expiration was not rebuilt: %+v", claims.ExpiresAfter)
	}
	if claims.IssuedAt.Unix() != session.IssuedAt.Unix() {
		t.Errorf("claims issued at is %v, expected %v", claims.IssuedAt, session.IssuedAt)
	}
}

func TestFromContextExpiredToken(t *testing.T) {
	withSecret(t, "super-secret-signing-key")

	manager, err := NewJWTManager()
	if err != nil {
		t.Fatalf("could not create manager: %v", err)
	}

	expiresAfter := int64(1)
	session := types.Session{
		Username:     "jdoe3",
		IssuedAt:     time.Now().Add(-2 * time.Hour),
		ExpiresAfter: &expiresAfter,
	}

	signed, err := manager.SignToken(manager.IssueJWT(session))
	if err != nil {
		t.Fatalf("could not sign token: %v", err)
	}

	decoded, err := manager.Auth.Decode(signed)
	if err != nil {
		t.Fatalf("could not decode signed token: %v", err)
	}

	ctx := jwtauth.NewContext(context.Background(), decoded, nil)
	_, _, err = FromContext(ctx)
	if err == nil {
		t.Error("expected an error for an expired token")
	}
}

func TestClaimsValid(t *testing.T) {
	expiresAfter := int64(1)

	empty := &Claims{}
	if err := empty.Valid(); err == nil {
		t.Error("expected an error for an empty username")
	}

	expired := &Claims{
		Username:     "jdoe3",
		IssuedAt:     time.Now().Add(-2 * time.Hour),
		ExpiresAfter: &expiresAfter,
	}
	if err := expired.Valid(); err == nil {
		t.Error("expected an error for expired claims")
	}

	active := &Claims{
		Username:     "jdoe3",
		IssuedAt:     time.Now(),
		ExpiresAfter: &expiresAfter,
	}
	if err := active.Valid(); err != nil {
		t.Errorf("unexpected error for active claims: %v", err)
	}

	forever := &Claims{
		Username: "jdoe3",
		IssuedAt: time.Now().Add(-1000 * time.Hour),
	}
	if err := forever.Valid(); err != nil {
		t.Errorf("unexpected error for claims without expiration: %v", err)
	}
}
