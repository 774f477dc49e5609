package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// MaxFrameSize bounds a single wire frame. Voice frames dominate
// (a base64 blob of one encrypted audio packet); anything near this
// limit indicates a hostile or broken peer.
const MaxFrameSize = 1 << 20

// Frame kind markers. Any first field that is not one of these is a
// recipient identity, making the frame a text envelope.
const (
	MarkerSystem = "SYSTEM"
	MarkerVoice  = "VOICE"
	MarkerRoom   = "ROOM"
	MarkerOK     = "OK"
	MarkerError  = "ERROR"
)

// Room verbs.
const (
	RoomCreate  = "CREATE"
	RoomJoin    = "JOIN"
	RoomLeave   = "LEAVE"
	RoomInvite  = "INVITE"
	RoomList    = "LIST"
	RoomCreated = "CREATED"
	RoomSalt    = "SALT"
	RoomMembers = "MEMBERS"
	RoomJoined  = "JOINED"
	RoomLeft    = "LEFT"
	RoomError   = "ERROR"
)

// HandshakeOK is the reply to an accepted identity handshake.
const HandshakeOK = MarkerOK + "|Connected."

// ErrMalformedFrame indicates a frame that does not parse. The relay
// drops such frames and keeps the connection alive.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrFrameTooLarge indicates a frame exceeding MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// Kind classifies a frame by its first field.
type Kind uint8

const (
	// KindEnvelope is a point-to-point text envelope.
	KindEnvelope Kind = iota
	// KindSystem is a relay-originated notice.
	KindSystem
	// KindVoice is an encrypted audio frame.
	KindVoice
	// KindRoom is a room control frame.
	KindRoom
)

// Classify determines a frame's kind from its leading field.
func Classify(line string) Kind {
	head := line
	if i := strings.IndexByte(line, '|'); i >= 0 {
		head = line[:i]
	}
	switch head {
	case MarkerSystem:
		return KindSystem
	case MarkerVoice:
		return KindVoice
	case MarkerRoom:
		return KindRoom
	default:
		return KindEnvelope
	}
}

// Envelope is a point-to-point text message. Peer is the recipient on
// the sending side and the sender on the receiving side; the relay
// swaps it during forwarding. The payload stays opaque end to end.
type Envelope struct {
	Peer       string
	PageID     string
	Ciphertext string
}

// Encode renders the envelope wire form: peer|pageID:hexCiphertext.
func (e Envelope) Encode() string {
	return fmt.Sprintf("%s|%s:%s", e.Peer, e.PageID, e.Ciphertext)
}

// ParseEnvelope parses a text envelope frame.
func ParseEnvelope(line string) (Envelope, error) {
	peer, payload, ok := strings.Cut(line, "|")
	if !ok || peer == "" {
		return Envelope{}, fmt.Errorf("%w: missing recipient separator", ErrMalformedFrame)
	}
	pageID, ct, ok := strings.Cut(payload, ":")
	if !ok || pageID == "" {
		return Envelope{}, fmt.Errorf("%w: missing page separator", ErrMalformedFrame)
	}
	return Envelope{Peer: peer, PageID: pageID, Ciphertext: ct}, nil
}

// EnvelopePayload returns the opaque payload portion of an envelope
// frame (everything after the first separator), for verbatim
// forwarding by the relay.
func EnvelopePayload(line string) (peer, payload string, err error) {
	peer, payload, ok := strings.Cut(line, "|")
	if !ok || peer == "" || payload == "" {
		return "", "", fmt.Errorf("%w: missing recipient separator", ErrMalformedFrame)
	}
	return peer, payload, nil
}

// ForwardEnvelope rebuilds an envelope frame with the sender identity
// in place of the recipient, the form delivered to the target.
func ForwardEnvelope(sender, payload string) string {
	return sender + "|" + payload
}

// SystemNotice renders a relay notice frame.
func SystemNotice(message string) string {
	return MarkerSystem + "|" + message
}

// OfflineNotice renders the standard unreachable-target notice.
func OfflineNotice(target string) string {
	return SystemNotice(target + " is offline.")
}

// HandshakeError renders a handshake rejection frame.
func HandshakeError(reason string) string {
	return MarkerError + "|" + reason
}

// VoiceFrame is one encrypted audio packet scoped to a room.
type VoiceFrame struct {
	RoomID string
	Sender string
	// Payload is nonce||ciphertext||tag as produced by the voice
	// cipher; base64 on the wire.
	Payload []byte
}

// Encode renders the voice wire form.
func (v VoiceFrame) Encode() string {
	return fmt.Sprintf("%s|%s|%s|%s", MarkerVoice, v.RoomID, v.Sender,
		base64.StdEncoding.EncodeToString(v.Payload))
}

// ParseVoice parses a VOICE frame.
func ParseVoice(line string) (VoiceFrame, error) {
	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 || parts[0] != MarkerVoice {
		return VoiceFrame{}, fmt.Errorf("%w: bad voice frame", ErrMalformedFrame)
	}
	payload, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return VoiceFrame{}, fmt.Errorf("%w: bad voice payload encoding", ErrMalformedFrame)
	}
	return VoiceFrame{RoomID: parts[1], Sender: parts[2], Payload: payload}, nil
}

// RoomFrame is a room control frame, client- or server-originated.
// Field usage depends on the verb; unused fields stay zero.
type RoomFrame struct {
	Verb   string
	RoomID string
	// Peer is the invite target (client→relay) or the acting member
	// (relay→client JOINED/LEFT, INVITE sender).
	Peer string
	// Salt carries the room salt for CREATE, INVITE and SALT frames.
	Salt []byte
	// Text carries MEMBERS lists, LIST summaries and ERROR messages.
	Text string
}

// Encode renders the room control wire form.
func (r RoomFrame) Encode() string {
	switch r.Verb {
	case RoomCreate:
		return fmt.Sprintf("%s|%s|%s|%s", MarkerRoom, RoomCreate, r.RoomID,
			base64.StdEncoding.EncodeToString(r.Salt))
	case RoomJoin, RoomLeave, RoomCreated:
		return fmt.Sprintf("%s|%s|%s", MarkerRoom, r.Verb, r.RoomID)
	case RoomInvite:
		return fmt.Sprintf("%s|%s|%s|%s|%s", MarkerRoom, RoomInvite, r.Peer, r.RoomID,
			base64.StdEncoding.EncodeToString(r.Salt))
	case RoomList:
		if r.Text == "" && r.RoomID == "" {
			return MarkerRoom + "|" + RoomList
		}
		return fmt.Sprintf("%s|%s|%s", MarkerRoom, RoomList, r.Text)
	case RoomSalt:
		return fmt.Sprintf("%s|%s|%s", MarkerRoom, RoomSalt,
			base64.StdEncoding.EncodeToString(r.Salt))
	case RoomMembers, RoomError:
		return fmt.Sprintf("%s|%s|%s", MarkerRoom, r.Verb, r.Text)
	case RoomJoined, RoomLeft:
		return fmt.Sprintf("%s|%s|%s", MarkerRoom, r.Verb, r.Peer)
	default:
		return fmt.Sprintf("%s|%s", MarkerRoom, r.Verb)
	}
}

// ParseRoom parses a ROOM frame from either direction.
func ParseRoom(line string) (RoomFrame, error) {
	parts := strings.Split(line, "|")
	if len(parts) < 2 || parts[0] != MarkerRoom {
		return RoomFrame{}, fmt.Errorf("%w: bad room frame", ErrMalformedFrame)
	}

	f := RoomFrame{Verb: parts[1]}
	switch f.Verb {
	case RoomCreate:
		if len(parts) != 4 || parts[2] == "" {
			return RoomFrame{}, fmt.Errorf("%w: CREATE wants room and salt", ErrMalformedFrame)
		}
		salt, err := base64.StdEncoding.DecodeString(parts[3])
		if err != nil {
			return RoomFrame{}, fmt.Errorf("%w: bad salt encoding", ErrMalformedFrame)
		}
		f.RoomID, f.Salt = parts[2], salt

	case RoomJoin, RoomLeave, RoomCreated:
		if len(parts) != 3 || parts[2] == "" {
			return RoomFrame{}, fmt.Errorf("%w: %s wants a room id", ErrMalformedFrame, f.Verb)
		}
		f.RoomID = parts[2]

	case RoomInvite:
		if len(parts) != 5 {
			return RoomFrame{}, fmt.Errorf("%w: INVITE wants target, room and salt", ErrMalformedFrame)
		}
		salt, err := base64.StdEncoding.DecodeString(parts[4])
		if err != nil {
			return RoomFrame{}, fmt.Errorf("%w: bad salt encoding", ErrMalformedFrame)
		}
		f.Peer, f.RoomID, f.Salt = parts[2], parts[3], salt

	case RoomSalt:
		if len(parts) != 3 {
			return RoomFrame{}, fmt.Errorf("%w: SALT wants a value", ErrMalformedFrame)
		}
		salt, err := base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			return RoomFrame{}, fmt.Errorf("%w: bad salt encoding", ErrMalformedFrame)
		}
		f.Salt = salt

	case RoomMembers, RoomError, RoomList:
		// Rejoin in case the text itself contains separators.
		if len(parts) >= 3 {
			f.Text = strings.Join(parts[2:], "|")
		}

	case RoomJoined, RoomLeft:
		if len(parts) != 3 || parts[2] == "" {
			return RoomFrame{}, fmt.Errorf("%w: %s wants an identity", ErrMalformedFrame, f.Verb)
		}
		f.Peer = parts[2]

	default:
		return RoomFrame{}, fmt.Errorf("%w: unknown room verb %q", ErrMalformedFrame, f.Verb)
	}

	return f, nil
}
