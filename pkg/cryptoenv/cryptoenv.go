// Package cryptoenv provides the AES-256-GCM envelope used to decrypt
// per-user MT4 and bridge credentials coming out of the (external)
// credential store. It mirrors the envelope shape other subsystems in the
// wider system share: {encrypted, iv, tag} hex-encoded, 16-byte IV.
package cryptoenv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required AES-256 key size.
const KeySize = 32

// IVSize is the IV/nonce size this envelope uses (spec §6: "16-byte IV").
const IVSize = 16

var (
	ErrInvalidKey        = errors.New("cryptoenv: key must be 32 bytes")
	ErrInvalidEnvelope   = errors.New("cryptoenv: malformed envelope")
	ErrDecryptionFailed  = errors.New("cryptoenv: decryption failed")
)

// Envelope is the {encrypted, iv, tag} hex triple.
type Envelope struct {
	Encrypted string `json:"encrypted"`
	IV        string `json:"iv"`
	Tag       string `json:"tag"`
}

// Encryptor holds the process-level key used to decrypt stored credentials.
type Encryptor struct {
	key []byte
}

// NewEncryptor builds an Encryptor from a raw 32-byte key. Callers that
// have a hex-encoded ENCRYPTION_KEY should decode it (or hash it to 32
// bytes, per spec §6) before calling this.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Encryptor{key: key}, nil
}

// Encrypt produces the hex envelope for plaintext.
func (e *Encryptor) Encrypt(plaintext string) (Envelope, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return Envelope{}, fmt.Errorf("cryptoenv: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return Envelope{}, fmt.Errorf("cryptoenv: new gcm: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Envelope{}, fmt.Errorf("cryptoenv: read nonce: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return Envelope{
		Encrypted: hex.EncodeToString(ciphertext),
		IV:        hex.EncodeToString(iv),
		Tag:       hex.EncodeToString(tag),
	}, nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(env Envelope) (string, error) {
	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != IVSize {
		return "", ErrInvalidEnvelope
	}
	ciphertext, err := hex.DecodeString(env.Encrypted)
	if err != nil {
		return "", ErrInvalidEnvelope
	}
	tag, err := hex.DecodeString(env.Tag)
	if err != nil {
		return "", ErrInvalidEnvelope
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("cryptoenv: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return "", fmt.Errorf("cryptoenv: new gcm: %w", err)
	}

	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// KeyFromMaterial derives a 32-byte key from the ENCRYPTION_KEY config
// value: if it decodes as 64 hex chars, use it directly; otherwise hash it
// with SHA-256 (spec §6: "hex 64 chars or hashed to 32 bytes").
func KeyFromMaterial(material string) []byte {
	if b, err := hex.DecodeString(material); err == nil && len(b) == KeySize {
		return b
	}
	return sha256Sum(material)
}
