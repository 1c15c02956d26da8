//go:build windows

package session

import (
	"fmt"
	"os"
)

// lockDir opens the lock file. Windows has no flock; bbolt's own file lock
// is the only cross-process guard there.
func lockDir(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("session: open lock file: %w", err)
	}
	return f, nil
}

func unlockDir(f *os.File) {
	if f == nil {
		return
	}
	_ = f.Close()
}
