package padsync

import (
	"bytes"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/padrelay/pad"
)

// newChannelPair runs the IK handshake over an in-memory pipe and
// returns the initiator and responder channels.
func newChannelPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()

	initiatorKey, err := GenerateKeyPair()
	require.NoError(t, err)
	responderKey, err := GenerateKeyPair()
	require.NoError(t, err)

	left, right := net.Pipe()
	t.Cleanup(func() {
		left.Close()
		right.Close()
	})

	type acceptResult struct {
		ch  *Channel
		err error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		ch, err := Accept(right, responderKey)
		accepted <- acceptResult{ch, err}
	}()

	initiator, err := Dial(left, initiatorKey, responderKey.Public)
	require.NoError(t, err)

	res := <-accepted
	require.NoError(t, res.err)

	assert.Equal(t, initiatorKey.Public, res.ch.PeerStatic(),
		"responder should learn the initiator's static key")
	assert.Equal(t, responderKey.Public, initiator.PeerStatic())

	return initiator, res.ch
}

func TestHandshakeAndFrameRoundTrip(t *testing.T) {
	initiator, responder := newChannelPair(t)

	go func() {
		initiator.WriteFrame([]byte("hello"))
	}()
	got, err := responder.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	go func() {
		responder.WriteFrame([]byte("world"))
	}()
	got, err = initiator.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), got)
}

func TestDialRejectsWrongResponderKey(t *testing.T) {
	initiatorKey, err := GenerateKeyPair()
	require.NoError(t, err)
	responderKey, err := GenerateKeyPair()
	require.NoError(t, err)
	wrongKey, err := GenerateKeyPair()
	require.NoError(t, err)

	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()

	acceptErr := make(chan error, 1)
	go func() {
		_, err := Accept(right, responderKey)
		acceptErr <- err
		right.Close()
	}()

	// The first message is encrypted to the wrong static key, so the
	// responder cannot read it and tears the connection down.
	_, err = Dial(left, initiatorKey, wrongKey.Public)
	assert.Error(t, err)
	assert.Error(t, <-acceptErr)
}

func TestWriteFrameTooLarge(t *testing.T) {
	initiator, _ := newChannelPair(t)

	err := initiator.WriteFrame(make([]byte, maxPayload+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestSendAndReceivePad(t *testing.T) {
	initiator, responder := newChannelPair(t)

	// Large enough to span several chunks.
	material := strings.Repeat("ABCD1234", 20000)

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- SendPad(initiator, strings.NewReader(material))
	}()

	var out bytes.Buffer
	n, err := ReceivePad(responder, &out)
	require.NoError(t, err)
	require.NoError(t, <-sendErr)

	assert.Equal(t, int64(len(material)), n)
	assert.Equal(t, material, out.String())
}

func TestPullPadWritesUsablePad(t *testing.T) {
	initiator, responder := newChannelPair(t)

	srcDir := t.TempDir()
	require.NoError(t, writeTestPad(srcDir, 5))

	pushErr := make(chan error, 1)
	go func() {
		pushErr <- PushPad(initiator, srcDir)
	}()

	dstDir := filepath.Join(t.TempDir(), "peer")
	require.NoError(t, PullPad(responder, dstDir))
	require.NoError(t, <-pushErr)

	store, err := pad.Open(dstDir)
	require.NoError(t, err)
	total, used := store.Counts()
	assert.Equal(t, 5, total)
	assert.Equal(t, 0, used)
}

func TestPullPadRefusesOverwrite(t *testing.T) {
	initiator, responder := newChannelPair(t)

	dstDir := t.TempDir()
	require.NoError(t, writeTestPad(dstDir, 1))

	go func() {
		// The pull fails before reading, so nothing consumes this.
		initiator.WriteFrame([]byte("ignored"))
	}()

	err := PullPad(responder, dstDir)
	assert.ErrorIs(t, err, ErrPadExists)
}

func TestNoiseSenderAndReceiver(t *testing.T) {
	senderKey, err := GenerateKeyPair()
	require.NoError(t, err)
	receiverKey, err := GenerateKeyPair()
	require.NoError(t, err)

	srcDir := t.TempDir()
	require.NoError(t, writeTestPad(srcDir, 3))
	dstDir := filepath.Join(t.TempDir(), "peer")

	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()

	sendErr := make(chan error, 1)
	go func() {
		s := &NoiseSender{Local: senderKey, PeerPub: receiverKey.Public}
		sendErr <- s.Send(left, srcDir)
	}()

	r := &NoiseReceiver{
		Local: receiverKey,
		Authorize: func(peerStatic []byte) bool {
			return bytes.Equal(peerStatic, senderKey.Public)
		},
	}
	require.NoError(t, r.Receive(right, dstDir))
	require.NoError(t, <-sendErr)

	store, err := pad.Open(dstDir)
	require.NoError(t, err)
	total, _ := store.Counts()
	assert.Equal(t, 3, total)
}

func TestNoiseReceiverRejectsUnknownSender(t *testing.T) {
	senderKey, err := GenerateKeyPair()
	require.NoError(t, err)
	receiverKey, err := GenerateKeyPair()
	require.NoError(t, err)

	srcDir := t.TempDir()
	require.NoError(t, writeTestPad(srcDir, 1))

	left, right := net.Pipe()
	defer left.Close()
	defer right.Close()

	go func() {
		s := &NoiseSender{Local: senderKey, PeerPub: receiverKey.Public}
		s.Send(left, srcDir)
	}()

	r := &NoiseReceiver{
		Local:     receiverKey,
		Authorize: func([]byte) bool { return false },
	}
	err = r.Receive(right, filepath.Join(t.TempDir(), "peer"))
	assert.ErrorIs(t, err, ErrPeerNotAuthorized)
}

func writeTestPad(dir string, pages int) error {
	f, err := os.Create(filepath.Join(dir, pad.CipherFileName))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := pad.Generate(f, rand.Reader, pages, 64); err != nil {
		return err
	}
	return nil
}
