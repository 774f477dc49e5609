package pad

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

const (
	// CipherFileName is the pad file inside a store directory.
	CipherFileName = "cipher.txt"
	// UsedFileName is the used-page log inside a store directory.
	UsedFileName = "used_pages.txt"
	// LockFileName is the advisory lock file inside a store directory.
	LockFileName = "pad.lock"
)

// ErrPadExhausted indicates no unused page remains. The caller must
// not send a message; the user has to obtain a fresh pad.
var ErrPadExhausted = errors.New("pad exhausted: no unused pages available")

// ErrPageNotFound indicates the referenced page is absent from the
// local pad. This is a protocol-level condition (the peer used a pad
// the local side does not share), reported to the user and not retried.
var ErrPageNotFound = errors.New("page not found in pad")

// Store manages the pad and used-page log for one peer relationship.
//
// All mutations go through a mutex for in-process callers and an
// advisory file lock for cooperating processes sharing the same pad
// directory. The lock is held only for the scan-and-record section.
type Store struct {
	dir      string
	padPath  string
	usedPath string

	mu    sync.Mutex
	fl    *flock.Flock
	pages []Page
	used  map[string]struct{}
}

// Open loads the pad store rooted at dir, creating the directory and
// an empty used log as needed. The pad file itself must be provisioned
// out of band (generated locally or received from the peer).
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create pad directory: %w", err)
	}

	s := &Store{
		dir:      dir,
		padPath:  filepath.Join(dir, CipherFileName),
		usedPath: filepath.Join(dir, UsedFileName),
		fl:       flock.New(filepath.Join(dir, LockFileName)),
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"dir":   dir,
		"pages": len(s.pages),
		"used":  len(s.used),
	}).Debug("pad store opened")

	return s, nil
}

// reload re-reads the pad file and used log from disk. Callers must
// hold s.mu (or be the constructor).
func (s *Store) reload() error {
	pages, err := s.loadPages()
	if err != nil {
		return err
	}
	used, err := s.loadUsed()
	if err != nil {
		return err
	}
	s.pages = pages
	s.used = used
	return nil
}

func (s *Store) loadPages() ([]Page, error) {
	f, err := os.Open(s.padPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open pad file: %w", err)
	}
	defer f.Close()
	return readPages(f)
}

func (s *Store) loadUsed() (map[string]struct{}, error) {
	f, err := os.Open(s.usedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]struct{}), nil
		}
		return nil, fmt.Errorf("failed to open used-page log: %w", err)
	}
	defer f.Close()
	return readUsedIDs(f)
}

// AllocateNextUnused scans the pad in file order and claims the first
// page whose identifier is not in the used set, durably recording the
// claim before returning. Two concurrent calls, in this process or a
// cooperating one, never return the same page.
func (s *Store) AllocateNextUnused() (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fl.Lock(); err != nil {
		return Page{}, fmt.Errorf("failed to acquire pad lock: %w", err)
	}
	defer s.fl.Unlock()

	// Another process may have claimed pages since our last read.
	if err := s.reload(); err != nil {
		return Page{}, err
	}

	for _, p := range s.pages {
		if _, taken := s.used[p.ID]; taken {
			continue
		}
		if err := s.appendUsed(p.ID); err != nil {
			return Page{}, err
		}
		s.used[p.ID] = struct{}{}

		logrus.WithFields(logrus.Fields{
			"dir":     s.dir,
			"page_id": p.ID,
		}).Debug("allocated pad page")

		return p, nil
	}

	return Page{}, ErrPadExhausted
}

// MarkUsed records an identifier as consumed. Idempotent: marking an
// already-used identifier is a no-op. Called after allocation on the
// sender side and after successful decryption on the receiver side,
// since a received page must also never be reused.
func (s *Store) MarkUsed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("failed to acquire pad lock: %w", err)
	}
	defer s.fl.Unlock()

	used, err := s.loadUsed()
	if err != nil {
		return err
	}
	s.used = used
	if _, ok := s.used[id]; ok {
		return nil
	}

	if err := s.appendUsed(id); err != nil {
		return err
	}
	s.used[id] = struct{}{}
	return nil
}

// appendUsed durably appends one identifier to the used log. Callers
// hold both locks.
func (s *Store) appendUsed(id string) error {
	f, err := os.OpenFile(s.usedPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open used-page log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(id + "\n"); err != nil {
		return fmt.Errorf("failed to record used page: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync used-page log: %w", err)
	}
	return nil
}

// FindPage returns the page with the given identifier without marking
// it used; the caller marks it after a successful decode.
func (s *Store) FindPage(id string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.pages {
		if p.ID == id {
			return p, nil
		}
	}
	return Page{}, ErrPageNotFound
}

// IsUsed reports whether an identifier is in the used set.
func (s *Store) IsUsed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[id]
	return ok
}

// Counts returns the total and used page counts.
func (s *Store) Counts() (total, used int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages), len(s.used)
}

// PageLength returns the content length of the pad's pages, zero for
// an empty pad. Pages within one pad share a single length.
func (s *Store) PageLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pages) == 0 {
		return 0
	}
	return len(s.pages[0].Content)
}

// Available returns the number of unused pages remaining.
func (s *Store) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.pages {
		if _, taken := s.used[p.ID]; !taken {
			n++
		}
	}
	return n
}
