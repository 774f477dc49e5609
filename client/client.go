package client

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/padrelay/crypto"
	"github.com/opd-ai/padrelay/pad"
	"github.com/opd-ai/padrelay/protocol"
)

// Config carries client settings.
type Config struct {
	// ServerAddr is the relay address, host:port.
	ServerAddr string
	// Identity is this device's 11-character identity token.
	Identity string
	// DataDir is the root of the pad data layout.
	DataDir string
	// PadMode selects per-contact or shared pad addressing. Empty
	// means pad.ModePerContact.
	PadMode pad.Mode
	// MaxFrameSize bounds one wire frame; zero means
	// protocol.MaxFrameSize.
	MaxFrameSize int
	// Names resolves identities to display names, typically a
	// contacts.Store. Nil leaves identities unresolved.
	Names NameResolver
}

// NameResolver maps an identity to a human display name.
type NameResolver interface {
	DisplayName(identity string) string
}

// ErrHandshakeRejected indicates the relay refused the identity claim.
var ErrHandshakeRejected = errors.New("handshake rejected by relay")

// ErrNotConnected indicates an operation that needs a live connection.
var ErrNotConnected = errors.New("not connected to relay")

// MessageCallback is invoked for every decrypted incoming message.
type MessageCallback func(sender, text string)

// SystemCallback is invoked for relay SYSTEM notices, including
// unreachable-target reports.
type SystemCallback func(notice string)

// UndecryptableCallback is invoked when an incoming message references
// a page absent from the sender's local pad. The condition is
// user-visible and never retried; it usually means the shared pad copy
// is missing.
type UndecryptableCallback func(sender, pageID string)

// Invite is a voice room invitation relayed from another device. The
// salt lets the invitee derive the room key before joining.
type Invite struct {
	From   string
	RoomID string
	Salt   []byte
}

// InviteCallback is invoked when a room invitation arrives.
type InviteCallback func(inv Invite)

// RoomEvent reports membership changes and errors for the active room.
type RoomEvent struct {
	Verb string
	Peer string
	Text string
}

// RoomEventCallback is invoked for room control frames.
type RoomEventCallback func(ev RoomEvent)

// Client is one device's connection to the relay.
type Client struct {
	cfg  Config
	pads *pad.Manager

	mu        sync.Mutex
	conn      net.Conn
	writeMu   sync.Mutex
	connected bool
	voice     *VoiceSession

	onMessage       MessageCallback
	onSystem        SystemCallback
	onUndecryptable UndecryptableCallback
	onInvite        InviteCallback
	onRoomEvent     RoomEventCallback

	done chan struct{}
}

// New creates a client. Connect must be called before sending.
func New(cfg Config) (*Client, error) {
	if !protocol.ValidIdentity(cfg.Identity) {
		return nil, fmt.Errorf("invalid identity %q", cfg.Identity)
	}
	if cfg.PadMode == "" {
		cfg.PadMode = pad.ModePerContact
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = protocol.MaxFrameSize
	}

	pads, err := pad.NewManager(cfg.DataDir, cfg.PadMode)
	if err != nil {
		return nil, err
	}

	return &Client{cfg: cfg, pads: pads}, nil
}

// DisplayName resolves an identity through the configured resolver,
// falling back to the identity itself.
func (c *Client) DisplayName(identity string) string {
	if c.cfg.Names == nil {
		return identity
	}
	return c.cfg.Names.DisplayName(identity)
}

// OnMessage sets the decrypted-message callback.
func (c *Client) OnMessage(cb MessageCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = cb
}

// OnSystemNotice sets the relay notice callback.
func (c *Client) OnSystemNotice(cb SystemCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSystem = cb
}

// OnUndecryptable sets the missing-page callback.
func (c *Client) OnUndecryptable(cb UndecryptableCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUndecryptable = cb
}

// OnInvite sets the room invitation callback.
func (c *Client) OnInvite(cb InviteCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onInvite = cb
}

// OnRoomEvent sets the room event callback.
func (c *Client) OnRoomEvent(cb RoomEventCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRoomEvent = cb
}

// Connect dials the relay, claims the identity and starts the receive
// loop. A rejected handshake (identity in use, invalid identity)
// returns ErrHandshakeRejected with the relay's reason.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return errors.New("already connected")
	}

	conn, err := net.Dial("tcp", c.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	if _, err := conn.Write([]byte(c.cfg.Identity + "\n")); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send identity: %w", err)
	}

	reader := bufio.NewReaderSize(conn, 64*1024)
	reply, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to read handshake reply: %w", err)
	}
	reply = strings.TrimRight(reply, "\n")

	if !strings.HasPrefix(reply, protocol.MarkerOK+"|") {
		conn.Close()
		reason := strings.TrimPrefix(reply, protocol.MarkerError+"|")
		return fmt.Errorf("%w: %s", ErrHandshakeRejected, reason)
	}

	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})

	logrus.WithFields(logrus.Fields{
		"identity": c.cfg.Identity,
		"server":   c.cfg.ServerAddr,
	}).Info("connected to relay")

	go c.receiveLoop(conn, reader, c.done)
	return nil
}

// Close terminates the connection. The receive loop exits and the
// relay releases the identity and any room memberships.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	c.voice = nil
	return c.conn.Close()
}

// Done returns a channel closed when the receive loop exits, whether
// by Close or by the relay dropping the connection.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Identity returns this client's identity token.
func (c *Client) Identity() string { return c.cfg.Identity }

// PadAvailable returns the number of unused pages for a peer.
func (c *Client) PadAvailable(peer string) (int, error) {
	store, err := c.pads.ForPeer(peer)
	if err != nil {
		return 0, err
	}
	return store.Available(), nil
}

// SendMessage encrypts text with the next unused page of the
// recipient's pad and sends the envelope. It returns the consumed page
// identifier. pad.ErrPadExhausted means no page was available;
// crypto.ErrMessageTooLong means the message cannot fit a pad page. In
// both cases nothing was sent and no page was consumed.
func (c *Client) SendMessage(recipient, text string) (pageID string, err error) {
	if !protocol.ValidIdentity(recipient) {
		return "", fmt.Errorf("invalid recipient %q", recipient)
	}

	store, err := c.pads.ForPeer(recipient)
	if err != nil {
		return "", err
	}

	// Check the length before allocating: a burned page is gone for
	// good, so an over-length message must not consume one.
	if pageLen := store.PageLength(); pageLen > 0 && len(text) > pageLen {
		return "", crypto.ErrMessageTooLong
	}

	page, err := store.AllocateNextUnused()
	if err != nil {
		return "", err
	}

	ct, err := crypto.OTPEncrypt(text, page.Content)
	if err != nil {
		return "", err
	}

	env := protocol.Envelope{Peer: recipient, PageID: page.ID, Ciphertext: ct}
	if err := c.send(env.Encode()); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"recipient": recipient,
		"page_id":   page.ID,
	}).Debug("message sent")

	return page.ID, nil
}

// send writes one frame, serializing concurrent senders.
func (c *Client) send(line string) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := conn.Write([]byte(line + "\n"))
	return err
}

// receiveLoop reads frames until the stream ends. It owns the done
// channel it was started with: after a Close and reconnect the client
// state belongs to a newer loop, so only this loop's channel is closed
// here.
func (c *Client) receiveLoop(conn net.Conn, reader *bufio.Reader, done chan struct{}) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), c.cfg.MaxFrameSize)

	for scanner.Scan() {
		c.handleFrame(scanner.Text())
	}

	c.mu.Lock()
	wasCurrent := c.conn == conn && c.connected
	if wasCurrent {
		c.connected = false
		c.voice = nil
	}
	c.mu.Unlock()

	conn.Close()
	if wasCurrent {
		logrus.WithField("identity", c.cfg.Identity).Info("disconnected from relay")
	}
	close(done)
}

func (c *Client) handleFrame(line string) {
	if line == "" {
		return
	}

	switch protocol.Classify(line) {
	case protocol.KindSystem:
		c.handleSystem(line)
	case protocol.KindVoice:
		c.handleVoice(line)
	case protocol.KindRoom:
		c.handleRoom(line)
	default:
		c.handleEnvelope(line)
	}
}

func (c *Client) handleSystem(line string) {
	notice := strings.TrimPrefix(line, protocol.MarkerSystem+"|")

	c.mu.Lock()
	cb := c.onSystem
	c.mu.Unlock()
	if cb != nil {
		cb(notice)
	}
}

// handleEnvelope decrypts an incoming text envelope. The referenced
// page is marked used only after a successful decode, and a received
// page is never reused afterwards.
func (c *Client) handleEnvelope(line string) {
	env, err := protocol.ParseEnvelope(line)
	if err != nil {
		logrus.WithError(err).Debug("dropped malformed envelope")
		return
	}

	store, err := c.pads.ForPeer(env.Peer)
	if err != nil {
		logrus.WithError(err).Warn("failed to open pad for sender")
		return
	}

	page, err := store.FindPage(env.PageID)
	if err != nil {
		c.mu.Lock()
		cb := c.onUndecryptable
		c.mu.Unlock()
		if cb != nil {
			cb(env.Peer, env.PageID)
		}
		logrus.WithFields(logrus.Fields{
			"sender":  env.Peer,
			"page_id": env.PageID,
		}).Warn("no matching pad page for incoming message")
		return
	}

	text, err := crypto.OTPDecrypt(env.Ciphertext, page.Content)
	if err != nil {
		logrus.WithError(err).Debug("dropped undecodable envelope")
		return
	}

	if err := store.MarkUsed(env.PageID); err != nil {
		logrus.WithError(err).Error("failed to mark received page used")
	}

	c.mu.Lock()
	cb := c.onMessage
	c.mu.Unlock()
	if cb != nil {
		cb(env.Peer, text)
	}
}

func (c *Client) handleRoom(line string) {
	frame, err := protocol.ParseRoom(line)
	if err != nil {
		logrus.WithError(err).Debug("dropped malformed room frame")
		return
	}

	c.mu.Lock()
	session := c.voice
	onInvite := c.onInvite
	onRoomEvent := c.onRoomEvent
	c.mu.Unlock()

	switch frame.Verb {
	case protocol.RoomSalt:
		if session != nil {
			session.setSalt(frame.Salt)
		}
	case protocol.RoomInvite:
		if onInvite != nil {
			onInvite(Invite{From: frame.Peer, RoomID: frame.RoomID, Salt: frame.Salt})
		}
	default:
		if onRoomEvent != nil {
			onRoomEvent(RoomEvent{Verb: frame.Verb, Peer: frame.Peer, Text: frame.Text})
		}
	}
}

func (c *Client) handleVoice(line string) {
	frame, err := protocol.ParseVoice(line)
	if err != nil {
		logrus.WithError(err).Debug("dropped malformed voice frame")
		return
	}

	c.mu.Lock()
	session := c.voice
	c.mu.Unlock()
	if session == nil {
		return
	}
	session.handleFrame(frame)
}
