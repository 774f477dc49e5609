package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/padrelay/protocol"
)

// Config carries relay server settings.
type Config struct {
	// ListenAddr is the TCP listen address, e.g. ":65432".
	ListenAddr string
	// MaxFrameSize bounds one wire frame; zero means
	// protocol.MaxFrameSize.
	MaxFrameSize int
	// StatusInterval is how often the server logs client and room
	// counts while running. Zero disables the status log.
	StatusInterval time.Duration
}

// session is one live client connection. Writes are serialized by
// writeMu so concurrent routers never interleave frames on the stream.
type session struct {
	sid      string
	identity string
	conn     net.Conn
	writeMu  sync.Mutex
}

// send writes one frame to the client. Safe for concurrent use.
func (s *session) send(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write([]byte(line + "\n"))
	return err
}

// Server accepts client connections, authenticates claimed identities
// and routes envelopes, room control and voice frames between them.
type Server struct {
	cfg      Config
	registry *Registry
	rooms    *RoomManager

	mu       sync.Mutex
	listener net.Listener
	started  bool

	// connsMu guards every accepted connection, registered or not, so
	// Stop can tear down clients still awaiting their identity line.
	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a relay server. Call Start to begin accepting.
func NewServer(cfg Config) *Server {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = protocol.MaxFrameSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		rooms:    NewRoomManager(),
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the listen address and begins accepting connections.
func (srv *Server) Start() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.started {
		return errors.New("server already started")
	}

	listener, err := net.Listen("tcp", srv.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.cfg.ListenAddr, err)
	}
	srv.listener = listener
	srv.started = true

	logrus.WithFields(logrus.Fields{
		"addr": listener.Addr().String(),
	}).Info("relay server listening")

	srv.wg.Add(1)
	go srv.acceptLoop(listener)

	if srv.cfg.StatusInterval > 0 {
		srv.wg.Add(1)
		go srv.statusLoop()
	}
	return nil
}

// statusLoop periodically logs how many clients and rooms are live.
func (srv *Server) statusLoop() {
	defer srv.wg.Done()

	ticker := time.NewTicker(srv.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-srv.ctx.Done():
			return
		case <-ticker.C:
			logrus.WithFields(logrus.Fields{
				"clients": srv.registry.Count(),
				"rooms":   srv.rooms.Count(),
			}).Info("relay status")
		}
	}
}

// Addr returns the bound listen address, useful when the config asked
// for an ephemeral port.
func (srv *Server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

// Stop closes the listener and every live connection, then waits for
// all connection handlers to finish.
func (srv *Server) Stop() {
	srv.cancel()

	srv.mu.Lock()
	if srv.listener != nil {
		srv.listener.Close()
	}
	srv.mu.Unlock()

	srv.connsMu.Lock()
	for conn := range srv.conns {
		conn.Close()
	}
	srv.connsMu.Unlock()

	srv.wg.Wait()
	logrus.Info("relay server stopped")
}

// ClientCount returns the number of connected identities.
func (srv *Server) ClientCount() int { return srv.registry.Count() }

// RoomCount returns the number of live voice rooms.
func (srv *Server) RoomCount() int { return srv.rooms.Count() }

func (srv *Server) acceptLoop(listener net.Listener) {
	defer srv.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-srv.ctx.Done():
				return
			default:
			}
			logrus.WithError(err).Warn("accept failed")
			continue
		}

		srv.connsMu.Lock()
		srv.conns[conn] = struct{}{}
		srv.connsMu.Unlock()

		srv.wg.Add(1)
		go srv.handleConnection(conn)
	}
}

func (srv *Server) releaseConn(conn net.Conn) {
	srv.connsMu.Lock()
	delete(srv.conns, conn)
	srv.connsMu.Unlock()
	conn.Close()
}

// handleConnection drives one client through the connection state
// machine: AWAITING_IDENTITY -> ACTIVE -> CLOSED.
func (srv *Server) handleConnection(conn net.Conn) {
	defer srv.wg.Done()
	defer srv.releaseConn(conn)

	s := &session{
		sid:  uuid.NewString(),
		conn: conn,
	}
	log := logrus.WithFields(logrus.Fields{
		"session": s.sid,
		"remote":  conn.RemoteAddr().String(),
	})

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), srv.cfg.MaxFrameSize)

	// AWAITING_IDENTITY: the first line is the claimed identity.
	if !scanner.Scan() {
		log.Debug("connection closed before handshake")
		return
	}
	identity := scanner.Text()

	if !protocol.ValidIdentity(identity) {
		s.send(protocol.HandshakeError("Invalid userID. Connection closed."))
		log.WithField("identity", identity).Info("rejected invalid identity")
		return
	}
	if err := srv.registry.Register(identity, s); err != nil {
		s.send(protocol.HandshakeError("UserID already taken. Connection closed."))
		log.WithField("identity", identity).Info("rejected duplicate identity")
		return
	}
	s.identity = identity
	log = log.WithField("identity", identity)

	if err := s.send(protocol.HandshakeOK); err != nil {
		srv.registry.Deregister(identity, s)
		log.WithError(err).Debug("handshake reply failed")
		return
	}
	log.Info("client connected")

	// ACTIVE: route frames until the stream ends.
	for scanner.Scan() {
		srv.dispatch(s, scanner.Text(), log)
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Debug("read loop ended")
	}

	// CLOSED: release the identity and room memberships.
	srv.registry.Deregister(identity, s)
	srv.announceDepartures(srv.rooms.RemoveFromAll(identity), identity)
	log.Info("client disconnected")
}

// dispatch routes one frame from an active client. Protocol errors
// past the handshake never terminate the connection: malformed frames
// are logged and dropped.
func (srv *Server) dispatch(s *session, line string, log *logrus.Entry) {
	if line == "" {
		return
	}

	switch protocol.Classify(line) {
	case protocol.KindVoice:
		srv.handleVoice(s, line, log)
	case protocol.KindRoom:
		srv.handleRoom(s, line, log)
	case protocol.KindSystem:
		log.Debug("dropped SYSTEM frame from client")
	default:
		srv.routeEnvelope(s, line, log)
	}
}

// routeEnvelope forwards recipient|payload to the recipient as
// sender|payload, never inspecting the payload. An unreachable target
// resolves to an immediate SYSTEM notice, not queuing.
func (srv *Server) routeEnvelope(s *session, line string, log *logrus.Entry) {
	target, payload, err := protocol.EnvelopePayload(line)
	if err != nil {
		log.WithError(err).Debug("dropped malformed envelope")
		return
	}

	dst, ok := srv.registry.Lookup(target)
	if !ok {
		if err := s.send(protocol.OfflineNotice(target)); err != nil {
			log.WithError(err).Debug("offline notice failed")
		}
		log.WithField("target", target).Debug("target unreachable")
		return
	}

	if err := dst.send(protocol.ForwardEnvelope(s.identity, payload)); err != nil {
		log.WithFields(logrus.Fields{
			"target":        target,
			logrus.ErrorKey: err,
		}).Debug("envelope delivery failed")
		return
	}
	log.WithFields(logrus.Fields{
		"target": target,
		"bytes":  len(payload),
	}).Debug("routed envelope")
}

// handleVoice fans an audio frame out to every other room member.
// Frames from non-members are dropped silently, and the sender field
// is always overwritten with the authenticated identity.
func (srv *Server) handleVoice(s *session, line string, log *logrus.Entry) {
	frame, err := protocol.ParseVoice(line)
	if err != nil {
		log.WithError(err).Debug("dropped malformed voice frame")
		return
	}
	if !srv.rooms.IsMember(frame.RoomID, s.identity) {
		log.WithField("room", frame.RoomID).Debug("dropped voice frame from non-member")
		return
	}

	frame.Sender = s.identity
	srv.broadcast(frame.RoomID, s.identity, frame.Encode(), log)
}

// handleRoom executes a client room command. Unknown rooms produce a
// ROOM|ERROR reply; the connection stays alive.
func (srv *Server) handleRoom(s *session, line string, log *logrus.Entry) {
	frame, err := protocol.ParseRoom(line)
	if err != nil {
		log.WithError(err).Debug("dropped malformed room frame")
		return
	}

	switch frame.Verb {
	case protocol.RoomCreate:
		srv.createRoom(s, frame, log)
	case protocol.RoomJoin:
		srv.joinRoom(s, frame, log)
	case protocol.RoomLeave:
		srv.leaveRoom(s, frame, log)
	case protocol.RoomInvite:
		srv.inviteToRoom(s, frame, log)
	case protocol.RoomList:
		// The reply keeps its trailing separator even when empty, so
		// clients can tell it apart from a LIST request.
		if err := s.send(protocol.MarkerRoom + "|" + protocol.RoomList + "|" + srv.rooms.Summary()); err != nil {
			log.WithError(err).Debug("reply failed")
		}
	default:
		log.WithField("verb", frame.Verb).Debug("dropped server-only room verb from client")
	}
}

func (srv *Server) createRoom(s *session, frame protocol.RoomFrame, log *logrus.Entry) {
	if err := srv.rooms.Create(frame.RoomID, s.identity, frame.Salt); err != nil {
		srv.replyRoomError(s, fmt.Sprintf("Room '%s' already exists", frame.RoomID), log)
		return
	}
	log.WithField("room", frame.RoomID).Info("room created")
	srv.reply(s, protocol.RoomFrame{Verb: protocol.RoomCreated, RoomID: frame.RoomID}, log)
}

func (srv *Server) joinRoom(s *session, frame protocol.RoomFrame, log *logrus.Entry) {
	salt, members, err := srv.rooms.Join(frame.RoomID, s.identity)
	if err != nil {
		srv.replyRoomError(s, fmt.Sprintf("Room '%s' not found", frame.RoomID), log)
		return
	}

	srv.reply(s, protocol.RoomFrame{Verb: protocol.RoomSalt, Salt: salt}, log)
	srv.reply(s, protocol.RoomFrame{Verb: protocol.RoomMembers,
		Text: joinIdentities(members)}, log)

	joined := protocol.RoomFrame{Verb: protocol.RoomJoined, Peer: s.identity}
	srv.broadcast(frame.RoomID, s.identity, joined.Encode(), log)
	log.WithField("room", frame.RoomID).Info("member joined room")
}

func (srv *Server) leaveRoom(s *session, frame protocol.RoomFrame, log *logrus.Entry) {
	destroyed, remaining, err := srv.rooms.Leave(frame.RoomID, s.identity)
	if err != nil {
		srv.replyRoomError(s, fmt.Sprintf("Room '%s' not found", frame.RoomID), log)
		return
	}
	if destroyed {
		log.WithField("room", frame.RoomID).Info("room closed (empty)")
		return
	}

	left := protocol.RoomFrame{Verb: protocol.RoomLeft, Peer: s.identity}
	for _, member := range remaining {
		srv.sendToIdentity(member, left.Encode(), log)
	}
	log.WithField("room", frame.RoomID).Info("member left room")
}

func (srv *Server) inviteToRoom(s *session, frame protocol.RoomFrame, log *logrus.Entry) {
	if !srv.rooms.Exists(frame.RoomID) {
		srv.replyRoomError(s, fmt.Sprintf("Room '%s' not found", frame.RoomID), log)
		return
	}

	invite := protocol.RoomFrame{
		Verb:   protocol.RoomInvite,
		Peer:   s.identity,
		RoomID: frame.RoomID,
		Salt:   frame.Salt,
	}
	if !srv.sendToIdentity(frame.Peer, invite.Encode(), log) {
		srv.replyRoomError(s, fmt.Sprintf("User '%s' is not online", frame.Peer), log)
		return
	}
	log.WithFields(logrus.Fields{
		"room":   frame.RoomID,
		"target": frame.Peer,
	}).Info("invite relayed")
}

// announceDepartures notifies survivors after a disconnect removed the
// identity from its rooms.
func (srv *Server) announceDepartures(departures []RoomDeparture, identity string) {
	if len(departures) == 0 {
		return
	}
	log := logrus.WithField("identity", identity)

	left := protocol.RoomFrame{Verb: protocol.RoomLeft, Peer: identity}
	for _, d := range departures {
		if d.Destroyed {
			log.WithField("room", d.RoomID).Info("room closed (empty)")
			continue
		}
		for _, member := range d.Remaining {
			srv.sendToIdentity(member, left.Encode(), log)
		}
	}
}

// broadcast sends a frame to every room member except exclude.
// Membership is snapshotted under the room lock; sends happen outside
// it.
func (srv *Server) broadcast(roomID, exclude, line string, log *logrus.Entry) {
	members, err := srv.rooms.MembersExcept(roomID, exclude)
	if err != nil {
		return
	}
	for _, member := range members {
		srv.sendToIdentity(member, line, log)
	}
}

// sendToIdentity delivers one frame to a connected identity, reporting
// whether the identity was reachable.
func (srv *Server) sendToIdentity(identity, line string, log *logrus.Entry) bool {
	dst, ok := srv.registry.Lookup(identity)
	if !ok {
		return false
	}
	if err := dst.send(line); err != nil {
		log.WithFields(logrus.Fields{
			"target":        identity,
			logrus.ErrorKey: err,
		}).Debug("send failed")
		return false
	}
	return true
}

func (srv *Server) reply(s *session, frame protocol.RoomFrame, log *logrus.Entry) {
	if err := s.send(frame.Encode()); err != nil {
		log.WithError(err).Debug("reply failed")
	}
}

func (srv *Server) replyRoomError(s *session, message string, log *logrus.Entry) {
	srv.reply(s, protocol.RoomFrame{Verb: protocol.RoomError, Text: message}, log)
}

func joinIdentities(members []string) string {
	return strings.Join(members, ",")
}
