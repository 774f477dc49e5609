package relay

import (
	"bufio"
	"encoding/base64"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testReadTimeout = 2 * time.Second

// testClient is a minimal line-oriented client for exercising the
// server over a real TCP connection.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func dialTest(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

// connect dials and completes the identity handshake.
func connect(t *testing.T, srv *Server, identity string) *testClient {
	t.Helper()
	c := dialTest(t, srv)
	c.sendLine(identity)
	require.Equal(t, "OK|Connected.", c.readLine())
	return c
}

func (c *testClient) sendLine(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *testClient) readLine() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(testReadTimeout)))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\n")
}

// waitRoomCount polls until the server reports n live rooms.
func waitRoomCount(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(testReadTimeout)
	for srv.RoomCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("room count never reached %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// expectClosed asserts the server closed the stream.
func (c *testClient) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(testReadTimeout)))
	_, err := c.reader.ReadString('\n')
	require.Error(c.t, err, "expected connection to be closed")
}

func TestHandshakeAcceptsValidIdentity(t *testing.T) {
	srv := startTestServer(t)
	connect(t, srv, "alicedev123")
	assert.Equal(t, 1, srv.ClientCount())
}

func TestHandshakeRejectsInvalidIdentity(t *testing.T) {
	srv := startTestServer(t)
	c := dialTest(t, srv)
	c.sendLine("BAD ID")
	assert.True(t, strings.HasPrefix(c.readLine(), "ERROR|"))
	c.expectClosed()
}

func TestHandshakeDuplicateIdentityExactlyOneWins(t *testing.T) {
	srv := startTestServer(t)
	connect(t, srv, "alicedev123")

	loser := dialTest(t, srv)
	loser.sendLine("alicedev123")
	assert.Equal(t, "ERROR|UserID already taken. Connection closed.", loser.readLine())
	loser.expectClosed()

	assert.Equal(t, 1, srv.ClientCount())
}

func TestRouteEnvelopeVerbatim(t *testing.T) {
	srv := startTestServer(t)
	a := connect(t, srv, "alicedev123")
	b := connect(t, srv, "bobdevice01")

	a.sendLine("bobdevice01|p1:AA")
	assert.Equal(t, "alicedev123|p1:AA", b.readLine(),
		"payload must be forwarded verbatim with sender substituted")
}

func TestRouteToOfflineTarget(t *testing.T) {
	srv := startTestServer(t)
	a := connect(t, srv, "alicedev123")

	a.sendLine("caroldev456|p1:AA")
	assert.Equal(t, "SYSTEM|caroldev456 is offline.", a.readLine())
}

func TestMalformedFrameKeepsConnectionAlive(t *testing.T) {
	srv := startTestServer(t)
	a := connect(t, srv, "alicedev123")
	b := connect(t, srv, "bobdevice01")

	a.sendLine("VOICE|onlythreefields")
	a.sendLine("ROOM|BOGUS|x")

	// The connection still routes after the garbage.
	a.sendLine("bobdevice01|p1:BB")
	assert.Equal(t, "alicedev123|p1:BB", b.readLine())
}

func TestOrderingPreservedPerSenderRecipientPair(t *testing.T) {
	srv := startTestServer(t)
	a := connect(t, srv, "alicedev123")
	b := connect(t, srv, "bobdevice01")

	for _, ct := range []string{"01", "02", "03", "04", "05"} {
		a.sendLine("bobdevice01|p" + ct + ":" + ct)
	}
	for _, ct := range []string{"01", "02", "03", "04", "05"} {
		assert.Equal(t, "alicedev123|p"+ct+":"+ct, b.readLine())
	}
}

func testSaltB64() string {
	return base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))
}

func TestRoomLifecycle(t *testing.T) {
	srv := startTestServer(t)
	a := connect(t, srv, "alicedev123")
	b := connect(t, srv, "bobdevice01")
	salt := testSaltB64()

	a.sendLine("ROOM|CREATE|room1|" + salt)
	assert.Equal(t, "ROOM|CREATED|room1", a.readLine())
	assert.Equal(t, 1, srv.RoomCount())

	b.sendLine("ROOM|JOIN|room1")
	assert.Equal(t, "ROOM|SALT|"+salt, b.readLine(),
		"joiner receives the creation-time salt for key derivation")
	assert.Equal(t, "ROOM|MEMBERS|alicedev123,bobdevice01", b.readLine())
	assert.Equal(t, "ROOM|JOINED|bobdevice01", a.readLine())

	b.sendLine("ROOM|LEAVE|room1")
	assert.Equal(t, "ROOM|LEFT|bobdevice01", a.readLine())

	// A destroyed room notifies nobody, so poll for the teardown.
	a.sendLine("ROOM|LEAVE|room1")
	waitRoomCount(t, srv, 0)

	// Destroyed room: join must fail with a room error.
	b.sendLine("ROOM|JOIN|room1")
	assert.Equal(t, "ROOM|ERROR|Room 'room1' not found", b.readLine())
}

func TestRoomCreateDuplicate(t *testing.T) {
	srv := startTestServer(t)
	a := connect(t, srv, "alicedev123")
	b := connect(t, srv, "bobdevice01")
	salt := testSaltB64()

	a.sendLine("ROOM|CREATE|room1|" + salt)
	assert.Equal(t, "ROOM|CREATED|room1", a.readLine())

	b.sendLine("ROOM|CREATE|room1|" + salt)
	assert.Equal(t, "ROOM|ERROR|Room 'room1' already exists", b.readLine())
}

func TestRoomInvite(t *testing.T) {
	srv := startTestServer(t)
	a := connect(t, srv, "alicedev123")
	b := connect(t, srv, "bobdevice01")
	salt := testSaltB64()

	a.sendLine("ROOM|CREATE|room1|" + salt)
	assert.Equal(t, "ROOM|CREATED|room1", a.readLine())

	a.sendLine("ROOM|INVITE|bobdevice01|room1|" + salt)
	assert.Equal(t, "ROOM|INVITE|alicedev123|room1|"+salt, b.readLine(),
		"invite carries the salt so the invitee can derive the key before joining")

	a.sendLine("ROOM|INVITE|ghostdev000|room1|" + salt)
	assert.Equal(t, "ROOM|ERROR|User 'ghostdev000' is not online", a.readLine())

	a.sendLine("ROOM|INVITE|bobdevice01|ghost|" + salt)
	assert.Equal(t, "ROOM|ERROR|Room 'ghost' not found", a.readLine())
}

func TestRoomList(t *testing.T) {
	srv := startTestServer(t)
	a := connect(t, srv, "alicedev123")
	salt := testSaltB64()

	a.sendLine("ROOM|LIST")
	assert.Equal(t, "ROOM|LIST|", a.readLine())

	a.sendLine("ROOM|CREATE|room1|" + salt)
	assert.Equal(t, "ROOM|CREATED|room1", a.readLine())

	a.sendLine("ROOM|LIST")
	assert.Equal(t, "ROOM|LIST|room1:1", a.readLine())
}

func TestVoiceFanOutExcludesSender(t *testing.T) {
	srv := startTestServer(t)
	a := connect(t, srv, "alicedev123")
	b := connect(t, srv, "bobdevice01")
	c := connect(t, srv, "caroldev456")
	salt := testSaltB64()

	a.sendLine("ROOM|CREATE|room1|" + salt)
	assert.Equal(t, "ROOM|CREATED|room1", a.readLine())
	b.sendLine("ROOM|JOIN|room1")
	b.readLine() // SALT
	b.readLine() // MEMBERS
	a.readLine() // JOINED bob
	c.sendLine("ROOM|JOIN|room1")
	c.readLine() // SALT
	c.readLine() // MEMBERS
	a.readLine() // JOINED carol
	b.readLine() // JOINED carol

	audio := base64.StdEncoding.EncodeToString([]byte("encrypted-audio"))
	a.sendLine("VOICE|room1|alicedev123|" + audio)

	expected := "VOICE|room1|alicedev123|" + audio
	assert.Equal(t, expected, b.readLine())
	assert.Equal(t, expected, c.readLine())

	// The sender hears nothing back; prove it by routing a text
	// envelope and seeing it arrive first.
	b.sendLine("alicedev123|p1:AA")
	assert.Equal(t, "bobdevice01|p1:AA", a.readLine(),
		"no echoed voice frame may precede this envelope")
}

func TestVoiceFromNonMemberDropped(t *testing.T) {
	srv := startTestServer(t)
	a := connect(t, srv, "alicedev123")
	b := connect(t, srv, "bobdevice01")
	salt := testSaltB64()

	a.sendLine("ROOM|CREATE|room1|" + salt)
	assert.Equal(t, "ROOM|CREATED|room1", a.readLine())

	audio := base64.StdEncoding.EncodeToString([]byte("spoofed"))
	b.sendLine("VOICE|room1|bobdevice01|" + audio)

	// Still alive, and alice never received the frame: her next read
	// is the envelope below.
	b.sendLine("alicedev123|p1:AA")
	assert.Equal(t, "bobdevice01|p1:AA", a.readLine())
}

func TestVoiceSenderFieldOverwritten(t *testing.T) {
	srv := startTestServer(t)
	a := connect(t, srv, "alicedev123")
	b := connect(t, srv, "bobdevice01")
	salt := testSaltB64()

	a.sendLine("ROOM|CREATE|room1|" + salt)
	assert.Equal(t, "ROOM|CREATED|room1", a.readLine())
	b.sendLine("ROOM|JOIN|room1")
	b.readLine()
	b.readLine()
	a.readLine()

	audio := base64.StdEncoding.EncodeToString([]byte("frame"))
	b.sendLine("VOICE|room1|someoneelse1|" + audio)
	assert.Equal(t, "VOICE|room1|bobdevice01|"+audio, a.readLine(),
		"relay must stamp the authenticated sender")
}

func TestStopClosesPreHandshakeConnection(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, srv.Start())

	// Dial but never send the identity line.
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Let the accept loop hand the connection off to a handler.
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(testReadTimeout):
		t.Fatal("Stop blocked on a connection that never sent an identity")
	}
}

func TestDisconnectCleansUpIdentityAndRooms(t *testing.T) {
	srv := startTestServer(t)
	a := connect(t, srv, "alicedev123")
	b := connect(t, srv, "bobdevice01")
	salt := testSaltB64()

	a.sendLine("ROOM|CREATE|room1|" + salt)
	assert.Equal(t, "ROOM|CREATED|room1", a.readLine())
	b.sendLine("ROOM|JOIN|room1")
	b.readLine()
	b.readLine()
	a.readLine()

	b.conn.Close()
	assert.Equal(t, "ROOM|LEFT|bobdevice01", a.readLine(),
		"disconnect must broadcast departure to surviving members")

	// The identity frees up for reconnection.
	deadline := time.Now().Add(testReadTimeout)
	for srv.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	connect(t, srv, "bobdevice01")
}
