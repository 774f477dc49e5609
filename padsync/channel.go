package padsync

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

var (
	// ErrFrameTooLarge indicates a frame exceeding the Noise message
	// size limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// maxNoiseMessage is the Noise protocol message size limit. Frames,
// including the AEAD tag, must fit inside it.
const maxNoiseMessage = 65535

// maxPayload leaves room for the 16-byte Poly1305 tag.
const maxPayload = maxNoiseMessage - 16

func cipherSuite() noise.CipherSuite {
	return noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
}

// GenerateKeyPair creates a fresh X25519 static keypair for a device.
// The public half is what a peer needs to initiate a pad transfer to us.
func GenerateKeyPair() (noise.DHKey, error) {
	key, err := cipherSuite().GenerateKeypair(rand.Reader)
	if err != nil {
		return noise.DHKey{}, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return key, nil
}

// Channel is an established Noise session over a stream connection.
// It is safe for one concurrent reader and one concurrent writer.
type Channel struct {
	conn net.Conn

	writeMu sync.Mutex
	enc     *noise.CipherState
	readMu  sync.Mutex
	dec     *noise.CipherState

	peerStatic []byte
}

// Dial performs the initiator side of the IK handshake over conn.
// peerPub is the responder's static public key; the handshake fails
// if the responder does not hold the matching private key.
func Dial(conn net.Conn, local noise.DHKey, peerPub []byte) (*Channel, error) {
	if len(peerPub) != 32 {
		return nil, fmt.Errorf("peer public key must be 32 bytes, got %d", len(peerPub))
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite(),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		StaticKeypair: local,
		PeerStatic:    peerPub,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("initiator handshake write failed: %w", err)
	}
	if err := writeRawFrame(conn, msg); err != nil {
		return nil, err
	}

	reply, err := readRawFrame(conn)
	if err != nil {
		return nil, err
	}
	_, cs0, cs1, err := hs.ReadMessage(nil, reply)
	if err != nil {
		return nil, fmt.Errorf("initiator handshake read failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"remote":   conn.RemoteAddr(),
	}).Debug("Pad sync channel established")

	return &Channel{
		conn:       conn,
		enc:        cs0,
		dec:        cs1,
		peerStatic: hs.PeerStatic(),
	}, nil
}

// Accept performs the responder side of the IK handshake over conn.
// The caller should check PeerStatic against its contact book before
// exchanging any pad material.
func Accept(conn net.Conn, local noise.DHKey) (*Channel, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite(),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     false,
		StaticKeypair: local,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	first, err := readRawFrame(conn)
	if err != nil {
		return nil, err
	}
	if _, _, _, err := hs.ReadMessage(nil, first); err != nil {
		return nil, fmt.Errorf("responder handshake read failed: %w", err)
	}

	reply, cs0, cs1, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("responder handshake write failed: %w", err)
	}
	if err := writeRawFrame(conn, reply); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Accept",
		"remote":   conn.RemoteAddr(),
	}).Debug("Pad sync channel established")

	// Split order is fixed as (initiator->responder, responder->initiator).
	return &Channel{
		conn:       conn,
		enc:        cs1,
		dec:        cs0,
		peerStatic: hs.PeerStatic(),
	}, nil
}

// PeerStatic returns the peer's static public key established during
// the handshake.
func (c *Channel) PeerStatic() []byte {
	key := make([]byte, len(c.peerStatic))
	copy(key, c.peerStatic)
	return key
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// WriteFrame encrypts and sends one frame. The plaintext must fit in
// a single Noise message.
func (c *Channel) WriteFrame(plaintext []byte) error {
	if len(plaintext) > maxPayload {
		return ErrFrameTooLarge
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ct, err := c.enc.Encrypt(nil, nil, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt frame: %w", err)
	}
	return writeRawFrame(c.conn, ct)
}

// ReadFrame receives and decrypts one frame.
func (c *Channel) ReadFrame() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	ct, err := readRawFrame(c.conn)
	if err != nil {
		return nil, err
	}
	pt, err := c.dec.Decrypt(nil, nil, ct)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt frame: %w", err)
	}
	return pt, nil
}

// writeRawFrame sends a 2-byte big-endian length prefix followed by
// the frame bytes.
func writeRawFrame(conn net.Conn, frame []byte) error {
	if len(frame) > maxNoiseMessage {
		return ErrFrameTooLarge
	}

	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(frame)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func readRawFrame(conn net.Conn) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	size := binary.BigEndian.Uint16(hdr[:])
	frame := make([]byte, size)
	if _, err := io.ReadFull(conn, frame); err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return frame, nil
}
