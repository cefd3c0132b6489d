package tokenstore

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed blob layout:
//
//	[version 1][salt 16][nonce 24][ciphertext+tag]
//
// The version byte is authenticated as additional data.
const (
	sealVersion byte = 0x01
	saltSize         = 16
	sealOverhead     = 1 + saltSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
)

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

func seal(plaintext, passphrase []byte) ([]byte, error) {
	header := make([]byte, 1+saltSize+chacha20poly1305.NonceSizeX)
	header[0] = sealVersion
	if _, err := io.ReadFull(rand.Reader, header[1:]); err != nil {
		return nil, fmt.Errorf("tokenstore: generating salt and nonce: %w", err)
	}
	salt := header[1 : 1+saltSize]
	nonce := header[1+saltSize:]

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("tokenstore: creating cipher: %w", err)
	}
	return aead.Seal(header, nonce, plaintext, header[:1]), nil
}

func open(blob, passphrase []byte) ([]byte, error) {
	if len(blob) < sealOverhead {
		return nil, fmt.Errorf("%w: blob is %d bytes", ErrSealed, len(blob))
	}
	if blob[0] != sealVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSealed, blob[0])
	}
	salt := blob[1 : 1+saltSize]
	nonce := blob[1+saltSize : 1+saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("tokenstore: creating cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ciphertext, blob[:1])
	if err != nil {
		return nil, fmt.Errorf("%w: wrong passphrase or tampered file", ErrSealed)
	}
	return plain, nil
}
