// Package crypto implements the cipher operations for the pad relay
// system: one-time-pad XOR for text messages and password-derived
// AES-256-GCM for voice frames.
//
// The package is stateless. Key material ownership lives in the pad
// package (OTP pages) and in the client's voice sessions (derived room
// keys); callers pass it in per operation.
//
// Example:
//
//	ct, err := crypto.OTPEncrypt("hello", page.Content)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	key := crypto.DeriveRoomKey("call password", salt)
//	frame, err := crypto.VoiceEncrypt(pcm, key)
package crypto
