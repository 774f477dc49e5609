package crypto

import (
	"encoding/hex"
	"errors"
)

// ErrMessageTooLong indicates the plaintext exceeds the pad page length.
// The caller must not send the message; a page is never split across
// two messages.
var ErrMessageTooLong = errors.New("message longer than pad page")

// ErrEmptyPage indicates an empty pad page was supplied.
var ErrEmptyPage = errors.New("empty pad page")

// OTPEncrypt XORs plaintext against a prefix of the pad page content
// and returns the result hex-encoded for transmission.
//
// Perfect secrecy holds only if pageContent is truly random and never
// reused; enforcing single use is the pad store's job.
func OTPEncrypt(plaintext string, pageContent string) (string, error) {
	if len(pageContent) == 0 {
		return "", ErrEmptyPage
	}
	if len(plaintext) > len(pageContent) {
		return "", ErrMessageTooLong
	}

	pt := []byte(plaintext)
	pad := []byte(pageContent)
	ct := make([]byte, len(pt))
	for i := range pt {
		ct[i] = pt[i] ^ pad[i]
	}
	return hex.EncodeToString(ct), nil
}

// OTPDecrypt reverses OTPEncrypt. The output is truncated to the
// shorter of the ciphertext and the page content, so a short page
// never causes an out-of-range read.
func OTPDecrypt(hexCiphertext string, pageContent string) (string, error) {
	if len(pageContent) == 0 {
		return "", ErrEmptyPage
	}

	ct, err := hex.DecodeString(hexCiphertext)
	if err != nil {
		return "", err
	}

	pad := []byte(pageContent)
	n := len(ct)
	if len(pad) < n {
		n = len(pad)
	}

	pt := make([]byte, n)
	for i := 0; i < n; i++ {
		pt[i] = ct[i] ^ pad[i]
	}
	return string(pt), nil
}
