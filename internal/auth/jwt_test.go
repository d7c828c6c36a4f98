package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testJWTConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("testsecret"),
		Issuer:   "wirechat-test",
		Audience: "wirechat",
		TTL:      time.Hour,
	}
}

func makeJWT(secret, aud, iss string, userID int64, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id":  userID,
		"username": "alice",
		"exp":      time.Now().Add(ttl).Unix(),
	}
	if aud != "" {
		claims["aud"] = aud
	}
	if iss != "" {
		claims["iss"] = iss
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := testJWTConfig()

	token, err := GenerateToken(cfg, 42, "alice")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" || claims.Subject != "42" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	cfg := testJWTConfig()

	cases := []struct {
		name   string
		secret string
		aud    string
		iss    string
		ttl    time.Duration
	}{
		{name: "wrong secret", secret: "other", aud: cfg.Audience, iss: cfg.Issuer, ttl: time.Hour},
		{name: "wrong audience", secret: "testsecret", aud: "someone-else", iss: cfg.Issuer, ttl: time.Hour},
		{name: "wrong issuer", secret: "testsecret", aud: cfg.Audience, iss: "mallory", ttl: time.Hour},
		{name: "expired", secret: "testsecret", aud: cfg.Audience, iss: cfg.Issuer, ttl: -time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, err := makeJWT(tc.secret, tc.aud, tc.iss, 1, tc.ttl)
			if err != nil {
				t.Fatalf("make token: %v", err)
			}
			if _, err := ValidateToken(cfg, token); err == nil {
				t.Fatal("expected validation to fail")
			}
		})
	}
}

func TestValidateTokenRejectsUnsignedAlg(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"user_id": 1,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ValidateToken(testJWTConfig(), raw); err == nil {
		t.Fatal("expected alg none to be rejected")
	}
}
