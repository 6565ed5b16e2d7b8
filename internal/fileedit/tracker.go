package fileedit

import (
	"crypto/sha256"
	"path/filepath"
	"sync"
)

// readTracker remembers the content hash of every file the editor read or
// wrote, so edits can warn about files that changed on disk in between.
type readTracker struct {
	mu     sync.Mutex
	hashes map[string][sha256.Size]byte
}

func newReadTracker() *readTracker {
	return &readTracker{hashes: make(map[string][sha256.Size]byte)}
}

func (t *readTracker) record(path string, sum [sha256.Size]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hashes[filepath.Clean(path)] = sum
}

func (t *readTracker) recordContent(path string, content []byte) {
	t.record(path, sha256.Sum256(content))
}

// changed reports whether content differs from what was last seen for
// path. Files never seen are not reported.
func (t *readTracker) changed(path string, content []byte) bool {
	t.mu.Lock()
	sum, ok := t.hashes[filepath.Clean(path)]
	t.mu.Unlock()
	return ok && sum != sha256.Sum256(content)
}

// pathLocks serializes writers per file.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (p *pathLocks) lock(path string) func() {
	key := filepath.Clean(path)
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*sync.Mutex)
	}
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}
