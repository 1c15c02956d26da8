package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bitfsorg/libstamp-go/log"
)

// FileStore implements PayloadCache on the local filesystem.
// Files are stored at: {baseDir}/{hex(digest[:1])}/{hex(digest)}
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

var _ PayloadCache = (*FileStore)(nil)

// NewFileStore creates a payload cache rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, ErrInvalidBaseDir
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// DigestToPath converts a digest to its filesystem path.
// The first byte picks the shard directory: {base}/{ab}/{abcdef...}
func DigestToPath(baseDir string, digest []byte) string {
	h := hex.EncodeToString(digest)
	return filepath.Join(baseDir, h[:2], h)
}

func validateDigest(digest []byte) error {
	if len(digest) != DigestSize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidDigest, len(digest))
	}
	return nil
}

func matches(digest, payload []byte) bool {
	sum := sha256.Sum256(payload)
	return hmac.Equal(sum[:], digest)
}

// Put writes payload atomically. Re-putting identical content is a no-op.
func (fs *FileStore) Put(digest []byte, payload []byte) error {
	if err := validateDigest(digest); err != nil {
		return err
	}
	if len(payload) == 0 {
		return ErrEmptyContent
	}
	if !matches(digest, payload) {
		return ErrDigestMismatch
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := DigestToPath(fs.baseDir, digest)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0600); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}

// Get reads a payload. A file that no longer hashes to its name is removed
// and reported as ErrDigestMismatch.
func (fs *FileStore) Get(digest []byte) ([]byte, error) {
	if err := validateDigest(digest); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	path := DigestToPath(fs.baseDir, digest)
	data, err := os.ReadFile(path)
	fs.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	if !matches(digest, data) {
		log.Storage.Warn().Str("path", path).Msg("evicting corrupt cached payload")
		_ = fs.Delete(digest)
		return nil, ErrDigestMismatch
	}
	return data, nil
}

func (fs *FileStore) Has(digest []byte) (bool, error) {
	if err := validateDigest(digest); err != nil {
		return false, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	_, err := os.Stat(DigestToPath(fs.baseDir, digest))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return true, nil
}

func (fs *FileStore) Delete(digest []byte) error {
	if err := validateDigest(digest); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(DigestToPath(fs.baseDir, digest)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}

// List scans the shard directories. Files that are not named by a digest
// are skipped.
func (fs *FileStore) List() ([][]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	var result [][]byte
	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) != 2 {
			continue
		}
		files, err := os.ReadDir(filepath.Join(fs.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			digest, err := hex.DecodeString(f.Name())
			if err != nil || len(digest) != DigestSize {
				continue
			}
			result = append(result, digest)
		}
	}
	return result, nil
}
