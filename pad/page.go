package pad

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	// PageIDLength is the length of a page identifier in characters.
	PageIDLength = 8

	// DefaultPageLength is the default page content length in
	// characters, which bounds the longest message a page can carry.
	DefaultPageLength = 3500

	// maxRecordSize bounds a single pad record when scanning, so a
	// corrupt file cannot force unbounded buffering.
	maxRecordSize = 1 << 20
)

// Page is one unit of one-time-pad key material. Immutable once
// generated, addressable by identifier, single use.
type Page struct {
	ID      string
	Content string
}

// parsePadRecord splits one pad file line into a page. Lines no longer
// than the identifier are skipped by callers.
func parsePadRecord(line string) Page {
	return Page{ID: line[:PageIDLength], Content: line[PageIDLength:]}
}

// readPages parses every pad record from r in file order. Blank and
// under-length lines are ignored, matching the tolerance of earlier
// pad tooling.
func readPages(r io.Reader) ([]Page, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

	var pages []Page
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(strings.TrimSpace(line)) <= PageIDLength {
			continue
		}
		pages = append(pages, parsePadRecord(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pad file: %w", err)
	}
	return pages, nil
}

// readUsedIDs parses the used-page log. Each line is an identifier;
// a trailing "|annotation" written by older trackers is tolerated.
func readUsedIDs(r io.Reader) (map[string]struct{}, error) {
	scanner := bufio.NewScanner(r)
	used := make(map[string]struct{})
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if i := strings.IndexByte(line, '|'); i >= 0 {
			line = line[:i]
		}
		used[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read used-page log: %w", err)
	}
	return used, nil
}
