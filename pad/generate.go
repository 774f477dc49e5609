package pad

import (
	"bufio"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// padCharset is the alphabet pad content is drawn from. Uppercase
// letters keep records printable and safe for the line-oriented pad
// file format.
const padCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// rejectionLimit is the largest byte value usable without modulo bias:
// the greatest multiple of len(padCharset) that fits in a byte. Raw
// entropy bytes at or above it are discarded.
const rejectionLimit = byte((256 / len(padCharset)) * len(padCharset))

// Generate writes numPages pad records to w, drawing entropy from
// src. src is treated as an opaque byte source; a hardware RNG device
// or crypto/rand.Reader both satisfy it. Each record is an 8-character
// identifier followed by pageLen characters of content.
//
// Identifier uniqueness within a pad is a generation-time property:
// with 26^8 possible identifiers, collisions within one pad are a
// generation defect, not a runtime condition.
func Generate(w io.Writer, src io.Reader, numPages, pageLen int) error {
	if numPages <= 0 {
		return fmt.Errorf("invalid page count %d", numPages)
	}
	if pageLen <= 0 {
		return fmt.Errorf("invalid page length %d", pageLen)
	}

	bw := bufio.NewWriter(w)
	br := bufio.NewReader(src)

	for i := 0; i < numPages; i++ {
		record, err := randomChars(br, PageIDLength+pageLen)
		if err != nil {
			return fmt.Errorf("failed to generate page %d: %w", i+1, err)
		}
		if _, err := bw.WriteString(record + "\n"); err != nil {
			return fmt.Errorf("failed to write page %d: %w", i+1, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush pad output: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"pages":    numPages,
		"page_len": pageLen,
	}).Info("pad generation complete")

	return nil
}

// randomChars draws n unbiased characters from padCharset using
// rejection sampling over raw entropy bytes.
func randomChars(src io.Reader, n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/2+16)

	for len(out) < n {
		read, err := src.Read(buf)
		if read == 0 {
			if err == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			if err != nil {
				return "", err
			}
			continue
		}
		for _, b := range buf[:read] {
			if b >= rejectionLimit {
				continue
			}
			out = append(out, padCharset[int(b)%len(padCharset)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
