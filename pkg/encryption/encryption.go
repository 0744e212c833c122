// Package encryption seals graph snapshots at rest with AES-256-GCM.
//
// The key is derived from a passphrase with PBKDF2-HMAC-SHA256. Every sealed
// blob carries its own random salt and nonce, so the same snapshot sealed
// twice never produces the same bytes and nothing but the passphrase has to
// be kept outside the file.
//
// Format:
//
//	[4 bytes magic "BZGS"][4 bytes version][16 bytes salt][12 bytes nonce][ciphertext+tag]
//
// ELI12:
//
// Think of a diary with a combination lock. The passphrase is the
// combination. PBKDF2 turns the combination into a real key by stirring it
// hundreds of thousands of times, which makes guessing slow. The salt is a
// random sticker on the cover, so two diaries with the same combination still
// need different keys. GCM both locks the pages and notices if anyone tore
// one out.
package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrInvalidData      = errors.New("encryption: invalid sealed data")
	ErrDecryptionFailed = errors.New("encryption: decryption failed (wrong passphrase or corrupted data)")
	ErrNoPassphrase     = errors.New("encryption: passphrase is empty")
)

const (
	formatVersion uint32 = 1

	saltSize  = 16
	keySize   = 32
	nonceSize = 12

	// DefaultIterations follows the OWASP 2023 recommendation for
	// PBKDF2-HMAC-SHA256.
	DefaultIterations = 600000
)

var magic = []byte("BZGS")

const headerSize = 4 + 4 + saltSize

// Sealer encrypts and decrypts blobs with a passphrase-derived key.
type Sealer struct {
	passphrase []byte
	iterations int
}

// NewSealer returns a Sealer for passphrase. iterations <= 0 selects
// DefaultIterations.
func NewSealer(passphrase string, iterations int) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Sealer{passphrase: []byte(passphrase), iterations: iterations}, nil
}

// DeriveKey derives a 32-byte AES-256 key from password and salt using
// PBKDF2-HMAC-SHA256.
func DeriveKey(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, keySize, sha256.New)
}

// IsSealed reports whether data starts with the sealed-blob magic.
func IsSealed(data []byte) bool {
	return len(data) >= len(magic) && bytes.Equal(data[:len(magic)], magic)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under a fresh salt and nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("encryption: salt: %w", err)
	}
	gcm, err := newGCM(DeriveKey(s.passphrase, salt, s.iterations))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("encryption: nonce: %w", err)
	}

	out := make([]byte, headerSize, headerSize+len(nonce)+len(plaintext)+gcm.Overhead())
	copy(out, magic)
	binary.BigEndian.PutUint32(out[4:8], formatVersion)
	copy(out[8:], salt)
	header := append([]byte(nil), out...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, header), nil
}

// Open decrypts a blob produced by Seal. The header is authenticated as
// additional data, so a tampered version or salt fails like a wrong key.
func (s *Sealer) Open(data []byte) ([]byte, error) {
	if !IsSealed(data) || len(data) < headerSize+nonceSize {
		return nil, ErrInvalidData
	}
	if v := binary.BigEndian.Uint32(data[4:8]); v != formatVersion {
		return nil, fmt.Errorf("unsupported version %d: %w", v, ErrInvalidData)
	}
	salt := data[8:headerSize]

	gcm, err := newGCM(DeriveKey(s.passphrase, salt, s.iterations))
	if err != nil {
		return nil, err
	}
	nonce := data[headerSize : headerSize+nonceSize]
	plaintext, err := gcm.Open(nil, nonce, data[headerSize+nonceSize:], data[:headerSize])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
