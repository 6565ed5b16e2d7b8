package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// DoomLoopThreshold is the number of identical consecutive calls that
// counts as a loop.
const DoomLoopThreshold = 3

const doomLoopHistory = 10

// DoomLoopDetector tracks repeated tool calls. It never blocks a call; the
// dispatcher attaches a warning to the result when Check reports a loop.
type DoomLoopDetector struct {
	mu      sync.Mutex
	history []string
}

// NewDoomLoopDetector creates a new doom loop detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{}
}

// Check records a call and reports whether it completes a run of
// DoomLoopThreshold identical calls (same tool, byte-identical input).
func (d *DoomLoopDetector) Check(toolName string, input []byte) bool {
	hash := hashCall(toolName, input)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, hash)
	if len(d.history) > doomLoopHistory {
		d.history = d.history[len(d.history)-doomLoopHistory:]
	}

	if len(d.history) < DoomLoopThreshold {
		return false
	}
	for _, h := range d.history[len(d.history)-DoomLoopThreshold:] {
		if h != hash {
			return false
		}
	}
	return true
}

// Reset forgets all recorded calls.
func (d *DoomLoopDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = nil
}

func hashCall(toolName string, input []byte) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}
