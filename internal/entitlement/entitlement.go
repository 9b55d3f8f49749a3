// Package entitlement verifies signed activation tokens for addon
// modules and maintains the on-disk token cache at
// license/tokens/<app-id>.token (spec §4.5.2, §6).
package entitlement

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnknownModule is returned by Manager.Activate when the app-id is
// not present in the static addon map.
var ErrUnknownModule = errors.New("entitlement: unknown addon module")

// ErrAppIDMismatch is returned when the token's claimed app-id does not
// match the app-id the caller is activating.
var ErrAppIDMismatch = errors.New("entitlement: token app_id mismatch")

// Claims is the JWT payload an activation token carries.
type Claims struct {
	AppID        string `json:"app_id"`
	SerialNumber string `json:"serial_number"`
	jwt.RegisteredClaims
}

// Manager verifies activation tokens against a configured RSA public
// key and persists accepted tokens to a disk cache.
type Manager struct {
	publicKey    *rsa.PublicKey
	cacheDir     string
	addonModules map[string]string // app-id -> module name
}

// New constructs a Manager. addonModules is the static map of known
// addon app-ids to their module name (spec §4.5 CONFIGURE step).
func New(publicKey *rsa.PublicKey, cacheDir string, addonModules map[string]string) *Manager {
	return &Manager{
		publicKey:    publicKey,
		cacheDir:     cacheDir,
		addonModules: addonModules,
	}
}

// ParseRSAPublicKeyFromPEM parses an RSA public key from PEM bytes,
// accepting PKIX ("PUBLIC KEY") and PKCS#1 ("RSA PUBLIC KEY") encodings.
func ParseRSAPublicKeyFromPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("entitlement: no PEM public key found")
	}
	switch block.Type {
	case "PUBLIC KEY":
		pubAny, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("entitlement: parse PKIX public key: %w", err)
		}
		pub, ok := pubAny.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("entitlement: public key is not RSA")
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("entitlement: parse PKCS#1 public key: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("entitlement: unsupported PEM block type %q", block.Type)
	}
}

// Verify parses and validates a signed token against the configured
// public key and confirms its app_id claim matches appID.
func (m *Manager) Verify(appID, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("entitlement: unexpected signing method %v", t.Header["alg"])
		}
		return m.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("entitlement: invalid or expired: %w", err)
	}
	if claims.AppID != appID {
		return nil, ErrAppIDMismatch
	}
	return claims, nil
}

// ModuleFor looks up the static addon module name for appID.
func (m *Manager) ModuleFor(appID string) (string, bool) {
	module, ok := m.addonModules[appID]
	return module, ok
}

func (m *Manager) tokenPath(appID string) string {
	return filepath.Join(m.cacheDir, appID+".token")
}

// PersistToken writes the raw token envelope to the disk cache.
func (m *Manager) PersistToken(appID, tokenString string) error {
	if err := os.MkdirAll(m.cacheDir, 0o700); err != nil {
		return fmt.Errorf("entitlement: create cache dir: %w", err)
	}
	if err := os.WriteFile(m.tokenPath(appID), []byte(tokenString), 0o600); err != nil {
		return fmt.Errorf("entitlement: persist token for %s: %w", appID, err)
	}
	return nil
}

// LoadCachedToken reads a previously-cached token for appID, if any.
func (m *Manager) LoadCachedToken(appID string) (string, bool) {
	data, err := os.ReadFile(m.tokenPath(appID))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// PurgeToken removes the cached token for appID, if present.
func (m *Manager) PurgeToken(appID string) error {
	err := os.Remove(m.tokenPath(appID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("entitlement: purge token for %s: %w", appID, err)
	}
	return nil
}

// Activate runs steps 1-4 of spec §4.5.2's activation flow: verify the
// token, confirm the app-id, resolve the module, and persist to the
// disk cache. The caller (Supervisor) performs the remaining steps:
// updating the registry row and materialising the service unit.
func (m *Manager) Activate(appID, tokenString string) (*Claims, string, error) {
	claims, err := m.Verify(appID, tokenString)
	if err != nil {
		return nil, "", err
	}
	module, ok := m.ModuleFor(appID)
	if !ok {
		return nil, "", ErrUnknownModule
	}
	if err := m.PersistToken(appID, tokenString); err != nil {
		return nil, "", err
	}
	return claims, module, nil
}
