package auth

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// file is the interface used by a Vault.
type file interface {
	io.ReaderAt
	io.WriterAt
	Truncate(int64) error
	Close() error
}

// Vault is an encrypted file holding one secret, the refresh token.
// The file is a 12-byte nonce followed by the sealed secret. The first eight
// bytes of the nonce count writes so that no nonce repeats under one key.
type Vault struct {
	f    file
	aead cipher.AEAD
	rand io.Reader
}

// KeySize is the size of the key used to encrypt a vault.
const KeySize = chacha20poly1305.KeySize

const (
	nonceSize = chacha20poly1305.NonceSize
	overhead  = chacha20poly1305.NonceSize + chacha20poly1305.Overhead
	// maxSecret bounds the secret length the vault will read back.
	maxSecret = 512
)

// DeriveKey derives a vault key for domain from the secret key material k.
func DeriveKey(k []byte, domain string) [KeySize]byte {
	var o [KeySize]byte
	kr := hkdf.Expand(sha3.New224, k, []byte(domain))
	if _, err := io.ReadFull(kr, o[:]); err != nil {
		panic(err)
	}
	return o
}

// OpenVault opens or creates a vault at path p.
func OpenVault(p string, key [KeySize]byte) (*Vault, error) {
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("couldn't open vault: %w", err)
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		panic(err)
	}
	return &Vault{f: f, aead: aead, rand: rand.Reader}, nil
}

// Load decrypts the secret. An empty vault gives the empty string.
func (v *Vault) Load(ctx context.Context) (string, error) {
	_, p, err := v.open()
	return string(p), err
}

// Store replaces the secret. Storing the empty string clears the vault.
// If the vault holds data not sealed with its key, Store returns an error.
func (v *Vault) Store(ctx context.Context, secret string) error {
	if secret == "" {
		if err := v.f.Truncate(0); err != nil {
			return fmt.Errorf("couldn't clear vault: %w", err)
		}
		return nil
	}
	nonce, _, err := v.open()
	if err != nil {
		return err
	}
	if len(nonce) == 0 {
		nonce, err = freshNonce(v.rand)
		if err != nil {
			return err
		}
	}
	n := binary.LittleEndian.Uint64(nonce)
	binary.LittleEndian.PutUint64(nonce, n+1)
	b := make([]byte, nonceSize, overhead+len(secret))
	copy(b, nonce)
	b = v.aead.Seal(b, b, []byte(secret), nil)
	if err := v.f.Truncate(0); err != nil {
		return fmt.Errorf("couldn't rewrite vault: %w", err)
	}
	if _, err := v.f.WriteAt(b, 0); err != nil {
		return fmt.Errorf("couldn't write vault: %w", err)
	}
	return nil
}

// Close closes the vault file.
func (v *Vault) Close() error {
	return v.f.Close()
}

func (v *Vault) open() (nonce, ptxt []byte, err error) {
	b := make([]byte, overhead+maxSecret)
	n, err := v.f.ReadAt(b, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("couldn't read vault: %w", err)
	}
	b = b[:n]
	if len(b) == 0 {
		return nil, nil, nil
	}
	if len(b) < overhead {
		return nil, nil, errors.New("vault data is too short")
	}
	nonce = b[:nonceSize:nonceSize]
	text := b[nonceSize:]
	ptxt, err = v.aead.Open(nil, nonce, text, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't open vault: %w", err)
	}
	return nonce, ptxt, nil
}

// freshNonce creates a nonce with a zero counter and random padding.
func freshNonce(rand io.Reader) ([]byte, error) {
	b := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand, b[8:]); err != nil {
		return nil, fmt.Errorf("couldn't read nonce padding: %w", err)
	}
	return b, nil
}
