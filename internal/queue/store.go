package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Paths lists the files backing a Store.
type Paths struct {
	Pending     string
	Roster      string
	OriginalLog string
	ReplyLog    string
}

// Store reads and writes the pending queue, the roster and the two
// append-only URL logs. Missing input files read as empty.
type Store struct {
	paths Paths
}

func NewStore(paths Paths) *Store {
	return &Store{paths: paths}
}

// Paths returns the files the store works on.
func (s *Store) Paths() Paths {
	return s.paths
}

// LoadPending returns the pending posts in queue order.
func (s *Store) LoadPending() ([]string, error) {
	data, err := readOptional(s.paths.Pending)
	if err != nil {
		return nil, err
	}
	return ParsePosts(data), nil
}

// SavePending overwrites the pending queue with posts. The file is replaced
// atomically so a crash never leaves a half-written queue behind.
func (s *Store) SavePending(posts []string) error {
	return writeAtomic(s.paths.Pending, FormatPosts(posts))
}

// LoadRoster returns the roster handles as written, blank lines dropped.
func (s *Store) LoadRoster() ([]string, error) {
	data, err := readOptional(s.paths.Roster)
	if err != nil {
		return nil, err
	}
	return ParseLines(data), nil
}

// AppendOriginal records the URL of a published original post.
func (s *Store) AppendOriginal(url string) error {
	return appendLine(s.paths.OriginalLog, url)
}

// AppendReply records the URL of a published reply.
func (s *Store) AppendReply(url string) error {
	return appendLine(s.paths.ReplyLog, url)
}

// CountRecords returns how many URLs have been logged to path.
func CountRecords(path string) (int, error) {
	data, err := readOptional(path)
	if err != nil {
		return 0, err
	}
	return len(ParseLines(data)), nil
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return f.Close()
}

// writeAtomic writes data to a temp file next to path and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// WriteFileAtomic exposes the temp-file-and-rename write for other stores.
func WriteFileAtomic(path string, data []byte) error {
	return writeAtomic(path, data)
}
