package client

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/padrelay/audio"
	"github.com/opd-ai/padrelay/crypto"
	"github.com/opd-ai/padrelay/protocol"
)

// ErrNoRoomKey indicates the session has not yet derived its key
// (the ROOM|SALT reply has not arrived).
var ErrNoRoomKey = errors.New("room key not yet derived")

// ErrSessionClosed indicates the session has left its room.
var ErrSessionClosed = errors.New("voice session closed")

// AudioCallback receives one decrypted, decoded audio frame. Frames
// from all senders arrive interleaved; mixing is the caller's job.
type AudioCallback func(sender string, pcm []int16, sampleRate uint32)

// VoiceSession is the client side of one voice room: it owns the
// password, the room salt and the derived key, and encrypts/decrypts
// every audio frame. The key never crosses the wire.
type VoiceSession struct {
	client   *Client
	roomID   string
	password string
	codec    *audio.Codec

	mu       sync.Mutex
	salt     []byte
	key      [crypto.RoomKeySize]byte
	keyReady bool
	closed   bool
	onAudio  AudioCallback
}

// CreateRoom creates a voice room on the relay. The salt is generated
// locally and travels with the CREATE command; the key is derived
// immediately from (password, salt).
func (c *Client) CreateRoom(roomID, password string) (*VoiceSession, error) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}

	s := c.newSession(roomID, password)
	s.setSalt(salt)

	create := protocol.RoomFrame{Verb: protocol.RoomCreate, RoomID: roomID, Salt: salt}
	if err := c.send(create.Encode()); err != nil {
		c.clearSession(s)
		return nil, err
	}
	return s, nil
}

// JoinRoom joins an existing voice room. The key is derived once the
// relay replies with the room's salt; SendFrame fails with ErrNoRoomKey
// until then.
func (c *Client) JoinRoom(roomID, password string) (*VoiceSession, error) {
	s := c.newSession(roomID, password)

	join := protocol.RoomFrame{Verb: protocol.RoomJoin, RoomID: roomID}
	if err := c.send(join.Encode()); err != nil {
		c.clearSession(s)
		return nil, err
	}
	return s, nil
}

// JoinInvited joins a room using the salt carried by an invitation,
// deriving the key before any relay round trip.
func (c *Client) JoinInvited(inv Invite, password string) (*VoiceSession, error) {
	s := c.newSession(inv.RoomID, password)
	s.setSalt(inv.Salt)

	join := protocol.RoomFrame{Verb: protocol.RoomJoin, RoomID: inv.RoomID}
	if err := c.send(join.Encode()); err != nil {
		c.clearSession(s)
		return nil, err
	}
	return s, nil
}

func (c *Client) newSession(roomID, password string) *VoiceSession {
	s := &VoiceSession{
		client:   c,
		roomID:   roomID,
		password: password,
		codec:    audio.NewCodec(),
	}
	c.mu.Lock()
	c.voice = s
	c.mu.Unlock()
	return s
}

func (c *Client) clearSession(s *VoiceSession) {
	c.mu.Lock()
	if c.voice == s {
		c.voice = nil
	}
	c.mu.Unlock()
}

// RoomID returns the session's room identifier.
func (s *VoiceSession) RoomID() string { return s.roomID }

// OnAudio sets the decoded-audio callback.
func (s *VoiceSession) OnAudio(cb AudioCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAudio = cb
}

// KeyReady reports whether the room key has been derived.
func (s *VoiceSession) KeyReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyReady
}

// Salt returns the room salt, nil until known.
func (s *VoiceSession) Salt() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.salt
}

// setSalt installs the room salt and derives the session key.
func (s *VoiceSession) setSalt(salt []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.salt = salt
	s.key = crypto.DeriveRoomKey(s.password, salt)
	s.keyReady = true
}

// Invite relays a room invitation to another identity, carrying the
// salt so the invitee can derive the key before joining.
func (s *VoiceSession) Invite(target string) error {
	s.mu.Lock()
	salt := s.salt
	ready := s.keyReady
	s.mu.Unlock()
	if !ready {
		return ErrNoRoomKey
	}

	inv := protocol.RoomFrame{
		Verb:   protocol.RoomInvite,
		Peer:   target,
		RoomID: s.roomID,
		Salt:   salt,
	}
	return s.client.send(inv.Encode())
}

// Leave exits the room and closes the session.
func (s *VoiceSession) Leave() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.client.clearSession(s)

	leave := protocol.RoomFrame{Verb: protocol.RoomLeave, RoomID: s.roomID}
	return s.client.send(leave.Encode())
}

// SendFrame encodes and encrypts one PCM frame and sends it to the
// room. Every other member receives it; the relay never echoes it
// back.
func (s *VoiceSession) SendFrame(pcm []int16) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.keyReady {
		s.mu.Unlock()
		return ErrNoRoomKey
	}
	key := s.key
	s.mu.Unlock()

	encoded, err := s.codec.EncodeFrame(pcm)
	if err != nil {
		return err
	}
	sealed, err := crypto.VoiceEncrypt(encoded, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt voice frame: %w", err)
	}

	frame := protocol.VoiceFrame{
		RoomID:  s.roomID,
		Sender:  s.client.Identity(),
		Payload: sealed,
	}
	return s.client.send(frame.Encode())
}

// handleFrame decrypts and decodes one incoming voice frame. Frames
// that fail authentication or decoding are dropped; the call
// continues.
func (s *VoiceSession) handleFrame(frame protocol.VoiceFrame) {
	if frame.RoomID != s.roomID {
		return
	}

	s.mu.Lock()
	if s.closed || !s.keyReady {
		s.mu.Unlock()
		return
	}
	key := s.key
	cb := s.onAudio
	s.mu.Unlock()

	decrypted, err := crypto.VoiceDecrypt(frame.Payload, key)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"room":          s.roomID,
			"sender":        frame.Sender,
			logrus.ErrorKey: err,
		}).Debug("dropped unauthenticated voice frame")
		return
	}

	pcm, rate, err := s.codec.DecodeFrame(decrypted)
	if err != nil {
		logrus.WithError(err).Debug("dropped undecodable voice frame")
		return
	}

	if cb != nil {
		cb(frame.Sender, pcm, rate)
	}
}
