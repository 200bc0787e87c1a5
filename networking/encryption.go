package networking

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

var (
	// ErrKeyLength is returned for AES keys that are not 16 or 32 bytes.
	ErrKeyLength = errors.New("key length must be 16 or 32 bytes")
	// ErrCiphertext means the ciphertext failed authentication or is truncated.
	ErrCiphertext = errors.New("ciphertext rejected")
)

// MaxSealOverhead is the most bytes a built-in encrypter adds to a payload,
// the secretbox nonce and tag.
const MaxSealOverhead = 24 + secretbox.Overhead

// ChunkLimit returns the largest file chunk whose encoded frame still fits
// maxPayload. Compression never grows a payload, encryption adds at most
// MaxSealOverhead.
func ChunkLimit(maxPayload uint32) int {
	limit := int(maxPayload) - MaxSealOverhead
	if limit < 1 {
		return 1
	}
	return limit
}

// Crypto handles AES-GCM encryption and decryption
type Crypto struct {
	aead cipher.AEAD
}

// NewCrypto takes AES-128 or AES-256 key
func NewCrypto(key []byte) (*Crypto, error) {
	if len(key) != 16 && len(key) != 32 {
		return nil, ErrKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Crypto{aead: aead}, nil
}

// Encrypt seals data behind a fresh random nonce
func (c *Crypto) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(data)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens data sealed by Encrypt
func (c *Crypto) Decrypt(data []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(data) < ns+c.aead.Overhead() {
		return nil, ErrCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCiphertext, err)
	}
	return plain, nil
}

// SecretBox handles NaCl secretbox encryption keyed from a passphrase
type SecretBox struct {
	key [32]byte
}

// NewSecretBox derives the box key from passphrase with HKDF-SHA256
func NewSecretBox(passphrase []byte) (*SecretBox, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	sb := new(SecretBox)
	kdf := hkdf.New(sha256.New, passphrase, nil, []byte("go_async_sockets secretbox"))
	if _, err := io.ReadFull(kdf, sb.key[:]); err != nil {
		return nil, err
	}
	return sb, nil
}

// Encrypt seals data, prefixing the 24 byte nonce
func (s *SecretBox) Encrypt(data []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], data, &nonce, &s.key), nil
}

// Decrypt opens data sealed by Encrypt
func (s *SecretBox) Decrypt(data []byte) ([]byte, error) {
	if len(data) < 24+secretbox.Overhead {
		return nil, ErrCiphertext
	}
	var nonce [24]byte
	copy(nonce[:], data[:24])
	plain, ok := secretbox.Open(nil, data[24:], &nonce, &s.key)
	if !ok {
		return nil, ErrCiphertext
	}
	return plain, nil
}
