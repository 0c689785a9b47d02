package auth

import (
	"fmt"
	"net/url"

	"github.com/Harvey-AU/ad-metrics-sync/internal/config"
)

// Mode is how bearer tokens are verified
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeHS256    Mode = "hs256"
	ModeJWKS     Mode = "jwks"
)

// Config holds bearer token verification settings
type Config struct {
	Secret   string
	JWKSURL  string
	Issuer   string
	Audience string
}

// FromConfig builds auth settings from the environment-driven config
func FromConfig(c config.Auth) Config {
	return Config{
		Secret:   c.JWTSecret,
		JWKSURL:  c.JWKSURL,
		Issuer:   c.Issuer,
		Audience: c.Audience,
	}
}

// Mode reports the verification mode. A JWKS URL takes precedence over a
// shared secret.
func (c Config) Mode() Mode {
	switch {
	case c.JWKSURL != "":
		return ModeJWKS
	case c.Secret != "":
		return ModeHS256
	default:
		return ModeDisabled
	}
}

// Validate ensures the configured mode is usable
func (c Config) Validate() error {
	if c.Mode() != ModeJWKS {
		return nil
	}
	u, err := url.Parse(c.JWKSURL)
	if err != nil {
		return fmt.Errorf("invalid AUTH_JWKS_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("AUTH_JWKS_URL must be an http(s) URL")
	}
	return nil
}
