package moderator

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
)

func testKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func testConfig(pub ed25519.PublicKey, now time.Time) GrantConfig {
	return GrantConfig{
		Issuer:   "hivemind-auth",
		Audience: "hivemind-pipeline",
		Key:      pub,
		Now:      func() time.Time { return now },
	}
}

func signGrant(t *testing.T, priv ed25519.PrivateKey, claims grantClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}
	return signed
}

func validClaims(now time.Time) grantClaims {
	return grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "hivemind-auth",
			Audience:  jwt.ClaimStrings{"hivemind-pipeline"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        "grant-1",
		},
		ModeratorID: "mod-42",
	}
}

func TestValidateGrant(t *testing.T) {
	pub, priv := testKeys(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	grant := signGrant(t, priv, validClaims(now))
	claims, err := ValidateGrant(grant, testConfig(pub, now))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.ModeratorID != "mod-42" {
		t.Fatalf("moderator id = %q, want mod-42", claims.ModeratorID)
	}
	if claims.JWTID != "grant-1" {
		t.Fatalf("jti = %q, want grant-1", claims.JWTID)
	}
}

func TestValidateGrantRejectsExpired(t *testing.T) {
	pub, priv := testKeys(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	claims := validClaims(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	grant := signGrant(t, priv, claims)
	if _, err := ValidateGrant(grant, testConfig(pub, now)); apperrors.CodeOf(err) != apperrors.CodeModeratorGrantExpired {
		t.Fatalf("err = %v, want grant expired", err)
	}
}

func TestValidateGrantRejectsWrongKey(t *testing.T) {
	pub, _ := testKeys(t)
	_, otherPriv := testKeys(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	grant := signGrant(t, otherPriv, validClaims(now))
	if _, err := ValidateGrant(grant, testConfig(pub, now)); apperrors.CodeOf(err) != apperrors.CodeModeratorGrantInvalid {
		t.Fatalf("err = %v, want grant invalid", err)
	}
}

func TestValidateGrantRejectsClaimMismatches(t *testing.T) {
	pub, priv := testKeys(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		mutate func(*grantClaims)
	}{
		{"issuer", func(c *grantClaims) { c.Issuer = "someone-else" }},
		{"audience", func(c *grantClaims) { c.Audience = jwt.ClaimStrings{"other-service"} }},
		{"missing jti", func(c *grantClaims) { c.ID = "" }},
		{"missing exp", func(c *grantClaims) { c.ExpiresAt = nil }},
		{"missing moderator", func(c *grantClaims) { c.ModeratorID = " " }},
		{"not yet valid", func(c *grantClaims) { c.NotBefore = jwt.NewNumericDate(now.Add(time.Minute)) }},
	}
	for _, tc := range cases {
		claims := validClaims(now)
		tc.mutate(&claims)
		grant := signGrant(t, priv, claims)
		if _, err := ValidateGrant(grant, testConfig(pub, now)); apperrors.CodeOf(err) != apperrors.CodeModeratorGrantInvalid {
			t.Fatalf("%s: err = %v, want grant invalid", tc.name, err)
		}
	}
}

func TestValidateGrantRequiresConfiguration(t *testing.T) {
	if _, err := ValidateGrant("token", GrantConfig{}); apperrors.CodeOf(err) != apperrors.CodeModeratorGrantInvalid {
		t.Fatalf("err = %v, want grant invalid", err)
	}
	if _, err := ValidateGrant("  ", GrantConfig{}); apperrors.CodeOf(err) != apperrors.CodeModeratorGrantInvalid {
		t.Fatalf("err = %v, want grant invalid", err)
	}
}

func TestLoadGrantConfigFromEnv(t *testing.T) {
	pub, _ := testKeys(t)
	t.Setenv("HIVEMIND_MODERATOR_GRANT_ISSUER", "hivemind-auth")
	t.Setenv("HIVEMIND_MODERATOR_GRANT_AUDIENCE", "hivemind-pipeline")
	t.Setenv("HIVEMIND_MODERATOR_GRANT_PUBLIC_KEY", base64.StdEncoding.EncodeToString(pub))

	cfg, err := LoadGrantConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Enabled() {
		t.Fatal("expected verifier to be enabled")
	}
	if cfg.Issuer != "hivemind-auth" {
		t.Fatalf("issuer = %q, want hivemind-auth", cfg.Issuer)
	}
}

func TestLoadGrantConfigAllowsDisabled(t *testing.T) {
	t.Setenv("HIVEMIND_MODERATOR_GRANT_ISSUER", "")
	t.Setenv("HIVEMIND_MODERATOR_GRANT_AUDIENCE", "")
	t.Setenv("HIVEMIND_MODERATOR_GRANT_PUBLIC_KEY", "")

	cfg, err := LoadGrantConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Enabled() {
		t.Fatal("expected verifier to be disabled")
	}
}

func TestLoadGrantConfigRejectsPartialConfig(t *testing.T) {
	t.Setenv("HIVEMIND_MODERATOR_GRANT_ISSUER", "hivemind-auth")
	t.Setenv("HIVEMIND_MODERATOR_GRANT_AUDIENCE", "")
	t.Setenv("HIVEMIND_MODERATOR_GRANT_PUBLIC_KEY", "")

	if _, err := LoadGrantConfigFromEnv(nil); err == nil {
		t.Fatal("expected error for partial configuration")
	}
}
