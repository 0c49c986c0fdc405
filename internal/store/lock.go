package store

import (
	"log"
	"os"
	"time"
)

const (
	lockAttempts   = 10
	lockRetryDelay = 100 * time.Millisecond
)

// fileLock is the cross-process advisory lock guarding the store file. The
// lock is a zero-byte companion file created with O_EXCL; whichever process
// creates it holds the lock until it removes it. All cooperating processes
// agree on this protocol, nothing enforces it against outsiders.
type fileLock struct {
	path string
}

// acquire tries to create the lock file, retrying a bounded number of times
// with a short delay. On success it returns a release func that must be
// called on every exit path; on exhaustion it returns ok=false and the
// caller decides whether to proceed (reads) or skip (writes).
func (l fileLock) acquire() (release func(), ok bool) {
	for i := 0; i < lockAttempts; i++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if err := f.Close(); err != nil {
				log.Printf("failed to close lock file %s: %v", l.path, err)
			}
			return func() {
				if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
					log.Printf("failed to remove lock file %s: %v", l.path, err)
				}
			}, true
		}
		if !os.IsExist(err) {
			log.Printf("failed to create lock file %s: %v", l.path, err)
			return nil, false
		}
		time.Sleep(lockRetryDelay)
	}
	return nil, false
}
