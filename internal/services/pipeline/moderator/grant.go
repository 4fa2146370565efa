// Package moderator verifies signed moderator grants presented on the
// approval endpoints.
package moderator

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/hivemind/internal/platform/errors"
)

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer    string `env:"HIVEMIND_MODERATOR_GRANT_ISSUER"`
	Audience  string `env:"HIVEMIND_MODERATOR_GRANT_AUDIENCE"`
	PublicKey string `env:"HIVEMIND_MODERATOR_GRANT_PUBLIC_KEY"`
}

// GrantConfig defines how moderator grants are verified.
type GrantConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// Enabled reports whether a verifier is configured. When disabled, the
// moderator endpoints are refused outright.
func (c GrantConfig) Enabled() bool {
	return c.Issuer != "" && c.Audience != "" && len(c.Key) == ed25519.PublicKeySize
}

// GrantClaims captures validated moderator grant claims.
type GrantClaims struct {
	Issuer      string
	Audience    []string
	ExpiresAt   time.Time
	NotBefore   time.Time
	IssuedAt    time.Time
	JWTID       string
	ModeratorID string
}

// grantClaims is the internal claims type used for JWT parsing.
type grantClaims struct {
	jwt.RegisteredClaims
	ModeratorID string `json:"moderator_id"`
}

// LoadGrantConfigFromEnv reads grant verification configuration. All three
// variables must be set together; all empty means moderation is disabled.
func LoadGrantConfigFromEnv(now func() time.Time) (GrantConfig, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return GrantConfig{}, fmt.Errorf("parse moderator grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if now == nil {
		now = time.Now
	}
	if issuer == "" && audience == "" && publicKey == "" {
		return GrantConfig{Now: now}, nil
	}
	if issuer == "" {
		return GrantConfig{}, fmt.Errorf("HIVEMIND_MODERATOR_GRANT_ISSUER is required")
	}
	if audience == "" {
		return GrantConfig{}, fmt.Errorf("HIVEMIND_MODERATOR_GRANT_AUDIENCE is required")
	}
	if publicKey == "" {
		return GrantConfig{}, fmt.Errorf("HIVEMIND_MODERATOR_GRANT_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return GrantConfig{}, fmt.Errorf("decode moderator grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return GrantConfig{}, fmt.Errorf("moderator grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	return GrantConfig{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// ValidateGrant verifies a moderator grant token and returns its claims.
func ValidateGrant(grant string, cfg GrantConfig) (GrantClaims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeModeratorGrantInvalid, "moderator grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if !cfg.Enabled() {
		return GrantClaims{}, apperrors.New(apperrors.CodeModeratorGrantInvalid, "moderator grant verifier is not configured")
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return GrantClaims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return GrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeModeratorGrantInvalid,
			"moderator grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return GrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeModeratorGrantInvalid,
			"moderator grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if parsed.ID == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeModeratorGrantInvalid, "moderator grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return GrantClaims{}, apperrors.New(apperrors.CodeModeratorGrantInvalid, "moderator grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return GrantClaims{}, apperrors.New(apperrors.CodeModeratorGrantExpired, "moderator grant is expired")
	}
	if parsed.NotBefore != nil {
		nbf := parsed.NotBefore.Time.UTC()
		if now.Before(nbf) {
			return GrantClaims{}, apperrors.New(apperrors.CodeModeratorGrantInvalid, "moderator grant not active yet")
		}
	}
	if strings.TrimSpace(parsed.ModeratorID) == "" {
		return GrantClaims{}, apperrors.New(apperrors.CodeModeratorGrantInvalid, "moderator grant subject is required")
	}

	claims := GrantClaims{
		Issuer:      parsed.Issuer,
		Audience:    []string(parsed.Audience),
		ExpiresAt:   exp,
		JWTID:       parsed.ID,
		ModeratorID: parsed.ModeratorID,
	}
	if parsed.NotBefore != nil {
		claims.NotBefore = parsed.NotBefore.Time.UTC()
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeModeratorGrantInvalid, "moderator grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeModeratorGrantInvalid, "moderator grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeModeratorGrantInvalid, "moderator grant is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
