// Package secure holds the PII field encryption used by the persistence
// path and the masking applied to anything that may reach logs or error
// text. Cipher choice is AES-256-GCM; cipher correctness is out of scope
// here, this is wiring.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
)

type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives a 256-bit key from the configured secret.
func NewEncryptor(key string) (*Encryptor, error) {
	if key == "" {
		return nil, fmt.Errorf("encryption key is required")
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead}, nil
}

// EncryptField encrypts a field value for storage. Empty stays empty so
// optional columns round-trip cleanly.
func (e *Encryptor) EncryptField(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (e *Encryptor) DecryptField(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(encrypted)
	if err != nil {
		return "", err
	}
	if len(raw) < e.aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := raw[:e.aead.NonceSize()], raw[e.aead.NonceSize():]
	plain, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

var (
	ssnDashRe = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	ssnBareRe = regexp.MustCompile(`\b\d{9}\b`)
	emailRe   = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})\b`)
	phoneRe   = regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`)
	parenRe   = regexp.MustCompile(`\(\d{3}\)\s?\d{3}-\d{4}`)
)

// MaskPII masks SSNs, emails and phone numbers in text destined for logs or
// user-visible errors. Domains stay visible for debuggability.
func MaskPII(text string) string {
	if text == "" {
		return text
	}
	text = ssnDashRe.ReplaceAllString(text, "XXX-XX-XXXX")
	text = ssnBareRe.ReplaceAllString(text, "XXXXXXXXX")
	text = emailRe.ReplaceAllString(text, "***@$1")
	text = phoneRe.ReplaceAllString(text, "XXX-XXX-XXXX")
	text = parenRe.ReplaceAllString(text, "(XXX) XXX-XXXX")
	return text
}
