// Package padsync moves pad material between two devices over an
// authenticated, encrypted channel.
//
// Pads must never transit the relay: the relay only ever sees
// ciphertext. When two peers cannot exchange pads physically, padsync
// gives them a direct channel secured with the Noise IK pattern
// (X25519, ChaCha20-Poly1305, SHA-256). The initiator must already
// know the responder's static public key, so a relay or network
// attacker cannot impersonate either side.
//
// The channel carries length-prefixed encrypted frames. On top of it,
// SendPad streams a pad file in chunks and ReceivePad writes it out,
// refusing to overwrite pad material that already exists.
package padsync
