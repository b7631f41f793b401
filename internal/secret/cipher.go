// Package secret seals small secrets (provider API keys, webhook URLs) for storage.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/smallbiznis/leakradar/internal/config"
	"go.uber.org/fx"
	"golang.org/x/crypto/hkdf"
	"gorm.io/datatypes"
)

const envelopeVersion = 1

// Purposes bind a sealed value to the column it was written for.
const (
	PurposeBillingCredential = "leakradar/billing-credential"
	PurposeAlertWebhook      = "leakradar/alert-webhook"
)

var (
	ErrKeyMissing         = errors.New("encryption_key_missing")
	ErrMalformedEnvelope  = errors.New("malformed_secret_envelope")
	ErrUnsupportedVersion = errors.New("unsupported_secret_version")
)

var Module = fx.Module("secret",
	fx.Provide(NewCipher),
)

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Cipher seals values with AES-256-GCM. Each purpose gets its own key derived from the
// configured secret with HKDF-SHA256.
type Cipher struct {
	master []byte
}

func NewCipher(cfg config.Config) *Cipher {
	return NewCipherFromSecret(cfg.CredentialSecret)
}

func NewCipherFromSecret(secret string) *Cipher {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Cipher{}
	}
	return &Cipher{master: []byte(secret)}
}

func (c *Cipher) Configured() bool {
	return c != nil && len(c.master) > 0
}

func (c *Cipher) key(purpose string) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrKeyMissing
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, c.master, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (c *Cipher) aead(purpose string) (cipher.AEAD, error) {
	key, err := c.key(purpose)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext into a versioned JSON envelope.
func (c *Cipher) Seal(purpose string, plaintext []byte) (datatypes.JSON, error) {
	gcm, err := c.aead(purpose)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(purpose))
	encoded := encryptedPayload{
		Version:    envelopeVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.Marshal(encoded)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}

// Open reverses Seal. A value sealed for another purpose fails authentication.
func (c *Cipher) Open(purpose string, sealed datatypes.JSON) ([]byte, error) {
	var payload encryptedPayload
	if err := json.Unmarshal(sealed, &payload); err != nil {
		return nil, ErrMalformedEnvelope
	}
	if payload.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, payload.Version)
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, ErrMalformedEnvelope
	}

	gcm, err := c.aead(purpose)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrMalformedEnvelope
	}
	return gcm.Open(nil, nonce, ciphertext, []byte(purpose))
}

func (c *Cipher) SealString(purpose, value string) (datatypes.JSON, error) {
	return c.Seal(purpose, []byte(value))
}

func (c *Cipher) OpenString(purpose string, sealed datatypes.JSON) (string, error) {
	out, err := c.Open(purpose, sealed)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
