package substrate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

const latestName = "latest"

// FileSystemSubstrate stores editions as files in a directory structure that
// several processes may share:
//
//	<root>/
//	  <escaped address>/
//	    latest            (number of the newest complete edition)
//	    <edition>/
//	      sone.xml
//	      <manifest entry name>
//
// An edition directory is claimed with an exclusive mkdir, so concurrent
// publishers never write the same edition. The latest pointer is replaced
// atomically after every file of the edition is in place.
type FileSystemSubstrate struct {
	root   string
	logger sone.Logger

	// mu serializes publishes from this process.
	mu sync.Mutex
}

// NewFileSystemSubstrate creates a substrate rooted at the given path.
func NewFileSystemSubstrate(root string, logger sone.Logger) (*FileSystemSubstrate, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create substrate root: %w", err)
	}
	if logger == nil {
		logger = sone.NewNopLogger()
	}
	return &FileSystemSubstrate{root: root, logger: logger}, nil
}

func (s *FileSystemSubstrate) addressDir(address string) string {
	return filepath.Join(s.root, url.PathEscape(address))
}

// Fetch returns the edition the latest pointer names.
func (s *FileSystemSubstrate) Fetch(ctx context.Context, address string) (*sone.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", sone.ErrSubstrate, err)
	}
	dir := s.addressDir(address)
	edition, err := readLatest(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sone.ErrSubstrate, err)
	}
	if edition == 0 {
		return nil, fmt.Errorf("%w: %s", sone.ErrDocumentNotFound, address)
	}
	data, err := os.ReadFile(filepath.Join(dir, strconv.FormatInt(edition, 10), sone.DocumentName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s edition %d", sone.ErrDocumentNotFound, address, edition)
		}
		return nil, fmt.Errorf("%w: reading document: %v", sone.ErrSubstrate, err)
	}
	return &sone.Document{Address: address, Edition: edition, Data: data}, nil
}

// Publish writes a new edition and then advances the latest pointer.
func (s *FileSystemSubstrate) Publish(ctx context.Context, address string, document []byte, manifest []sone.ManifestEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.addressDir(address)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("%w: creating address directory: %v", sone.ErrSubstrate, err)
	}
	latest, err := readLatest(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", sone.ErrSubstrate, err)
	}

	edition := latest + 1
	for {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", sone.ErrSubstrate, err)
		}
		err := os.Mkdir(filepath.Join(dir, strconv.FormatInt(edition, 10)), 0755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%w: claiming edition %d: %v", sone.ErrSubstrate, edition, err)
		}
		edition++
	}
	edDir := filepath.Join(dir, strconv.FormatInt(edition, 10))

	if err := writeFile(filepath.Join(edDir, sone.DocumentName), document); err != nil {
		return 0, fmt.Errorf("%w: %v", sone.ErrSubstrate, err)
	}
	for _, e := range manifest {
		if e.Name == "" || e.Name == sone.DocumentName || strings.ContainsAny(e.Name, `/\`) {
			return 0, fmt.Errorf("%w: invalid manifest entry name %q", sone.ErrSubstrate, e.Name)
		}
		if err := writeFile(filepath.Join(edDir, e.Name), e.Data); err != nil {
			return 0, fmt.Errorf("%w: %v", sone.ErrSubstrate, err)
		}
	}

	// Another process may have completed a higher edition meanwhile; the
	// pointer never moves backwards.
	if current, err := readLatest(dir); err == nil && current > edition {
		return edition, nil
	}
	if err := writeFile(filepath.Join(dir, latestName), []byte(strconv.FormatInt(edition, 10))); err != nil {
		return 0, fmt.Errorf("%w: %v", sone.ErrSubstrate, err)
	}
	return edition, nil
}

// Subscribe watches the address directory and delivers the latest edition each
// time the pointer is replaced, starting with the current one.
func (s *FileSystemSubstrate) Subscribe(ctx context.Context, address string) (<-chan int64, error) {
	dir := s.addressDir(address)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating address directory: %v", sone.ErrSubstrate, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: creating watcher: %v", sone.ErrSubstrate, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("%w: watching %s: %v", sone.ErrSubstrate, dir, err)
	}

	ch := make(chan int64, 1)
	var last int64
	if latest, err := readLatest(dir); err == nil && latest > 0 {
		last = latest
		ch <- latest
	}

	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != latestName || !event.Has(fsnotify.Create|fsnotify.Write) {
					continue
				}
				latest, err := readLatest(dir)
				if err != nil {
					s.logger.Warn("reading latest edition", "address", address, "error", err)
					continue
				}
				if latest > last {
					last = latest
					offer(ch, latest)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watching substrate", "address", address, "error", err)
			}
		}
	}()
	return ch, nil
}

// readLatest returns the edition named by the latest pointer, or 0 if there is none.
func readLatest(dir string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(dir, latestName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading latest pointer: %w", err)
	}
	edition, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing latest pointer: %w", err)
	}
	return edition, nil
}

// writeFile writes data to path using atomic write (temp file + rename).
func writeFile(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemSubstrate implements sone.Substrate interface
var _ sone.Substrate = (*FileSystemSubstrate)(nil)
