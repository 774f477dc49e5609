package padsync

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/padrelay/pad"
)

// ErrPadExists indicates the destination already holds pad material.
// Overwriting a pad would desynchronize the peers, so the transfer is
// refused rather than merged.
var ErrPadExists = errors.New("pad file already exists")

// ErrPeerNotAuthorized indicates the handshake completed with a static
// key the receiver does not trust.
var ErrPeerNotAuthorized = errors.New("peer static key not authorized")

// Sender pushes a local pad to a paired peer over an established
// connection. Implementations own securing the transfer.
type Sender interface {
	Send(conn net.Conn, padDir string) error
}

// Receiver accepts a pad from a paired peer over an established
// connection.
type Receiver interface {
	Receive(conn net.Conn, padDir string) error
}

// NoiseSender is the default Sender: a Noise IK initiator that knows
// the receiving device's static public key.
type NoiseSender struct {
	Local   noise.DHKey
	PeerPub []byte
}

// Send establishes the channel and streams padDir's pad file.
func (s *NoiseSender) Send(conn net.Conn, padDir string) error {
	ch, err := Dial(conn, s.Local, s.PeerPub)
	if err != nil {
		return err
	}
	return PushPad(ch, padDir)
}

// NoiseReceiver is the default Receiver. Authorize, when set, vets the
// initiator's static key before any pad material is accepted.
type NoiseReceiver struct {
	Local     noise.DHKey
	Authorize func(peerStatic []byte) bool
}

// Receive establishes the channel and writes the incoming pad into
// padDir.
func (r *NoiseReceiver) Receive(conn net.Conn, padDir string) error {
	ch, err := Accept(conn, r.Local)
	if err != nil {
		return err
	}
	if r.Authorize != nil && !r.Authorize(ch.PeerStatic()) {
		return ErrPeerNotAuthorized
	}
	return PullPad(ch, padDir)
}

// chunkSize is the plaintext chunk size used when streaming a pad.
const chunkSize = 32 * 1024

// SendPad streams pad material from r over the channel. A zero-length
// frame marks the end of the transfer.
func SendPad(ch *Channel, r io.Reader) error {
	buf := make([]byte, chunkSize)
	var sent int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := ch.WriteFrame(buf[:n]); werr != nil {
				return werr
			}
			sent += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read pad material: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "SendPad",
		"bytes":    sent,
	}).Info("Pad transfer sent")

	return ch.WriteFrame(nil)
}

// ReceivePad reads a streamed pad from the channel into w, returning
// the number of bytes written.
func ReceivePad(ch *Channel, w io.Writer) (int64, error) {
	var total int64
	for {
		chunk, err := ch.ReadFrame()
		if err != nil {
			return total, err
		}
		if len(chunk) == 0 {
			break
		}
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("failed to write pad material: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "ReceivePad",
		"bytes":    total,
	}).Info("Pad transfer received")

	return total, nil
}

// PushPad sends the pad file stored in dir over the channel.
func PushPad(ch *Channel, dir string) error {
	f, err := os.Open(filepath.Join(dir, pad.CipherFileName))
	if err != nil {
		return fmt.Errorf("failed to open pad file: %w", err)
	}
	defer f.Close()

	return SendPad(ch, f)
}

// PullPad receives a pad over the channel into dir. It refuses to
// replace an existing pad file and syncs the new file to disk before
// returning.
func PullPad(ch *Channel, dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create pad directory: %w", err)
	}

	path := filepath.Join(dir, pad.CipherFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return ErrPadExists
		}
		return fmt.Errorf("failed to create pad file: %w", err)
	}

	if _, err := ReceivePad(ch, f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync pad file: %w", err)
	}
	return f.Close()
}
