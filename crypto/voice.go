package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the number of iterations for room key
	// derivation. Every member runs the same derivation, so the key
	// itself is never transmitted.
	PBKDF2Iterations = 100000

	// RoomKeySize is the AES-256 key length in bytes.
	RoomKeySize = 32

	// SaltSize is the length of a room salt in bytes.
	SaltSize = 16

	// NonceSize is the AES-GCM nonce length in bytes. The nonce is
	// generated fresh per frame and prepended to the ciphertext.
	NonceSize = 12
)

// ErrAuthFailure indicates a voice frame failed GCM tag verification.
// Such frames are dropped by the caller and never surfaced as audio.
var ErrAuthFailure = errors.New("voice frame authentication failed")

// ErrFrameTooShort indicates an encrypted blob shorter than a nonce.
var ErrFrameTooShort = errors.New("encrypted frame too short")

// GenerateSalt returns a fresh random room salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveRoomKey derives a 32-byte AES key from a room password and
// salt using PBKDF2-HMAC-SHA256. The derivation is deterministic:
// the same password and salt always yield the same key.
func DeriveRoomKey(password string, salt []byte) [RoomKeySize]byte {
	var key [RoomKeySize]byte
	derived := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, RoomKeySize, sha256.New)
	copy(key[:], derived)
	return key
}

// VoiceEncrypt seals a voice frame with AES-256-GCM under a fresh
// random nonce. The returned blob is nonce || ciphertext || tag.
func VoiceEncrypt(frame []byte, key [RoomKeySize]byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, errors.New("empty voice frame")
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, frame, nil), nil
}

// VoiceDecrypt opens a blob produced by VoiceEncrypt, verifying the
// authentication tag. Tampered or corrupted frames return
// ErrAuthFailure.
func VoiceDecrypt(blob []byte, key [RoomKeySize]byte) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, ErrFrameTooShort
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	frame, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return frame, nil
}
