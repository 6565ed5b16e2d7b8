// Package output provides the bounded buffer that collects command output
// and hands it out as deltas.
//
// A Buffer keeps at most head+tail bytes of undelivered output. When more
// arrives, the middle is dropped and the next Delta carries an explicit
// truncation marker with the number of omitted bytes. Memory stays bounded
// no matter how much a command prints between two status checks.
package output

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

// Default limits for a single delta.
const (
	DefaultHeadBytes = 10000
	DefaultTailBytes = 20000
)

// NoNewOutput is the text of an empty delta.
const NoNewOutput = "(no new output)"

// Chunk is the output delivered by one Delta call.
type Chunk struct {
	// Text is the delivered output, including the truncation marker when
	// bytes were omitted.
	Text string `json:"text"`
	// OmittedBytes counts bytes dropped between head and tail.
	OmittedBytes int64 `json:"omittedBytes,omitempty"`
	// TotalBytes counts all bytes written since the last Reset.
	TotalBytes int64 `json:"totalBytes"`
	// Empty is set when nothing arrived since the previous delta.
	Empty bool `json:"empty,omitempty"`
}

// Truncated reports whether the middle of this chunk was dropped.
func (c Chunk) Truncated() bool {
	return c.OmittedBytes > 0
}

// String returns the chunk text, or NoNewOutput for an empty chunk.
func (c Chunk) String() string {
	if c.Empty {
		return NoNewOutput
	}
	return c.Text
}

// TruncationMarker is inserted where bytes were dropped.
func TruncationMarker(omitted int64) string {
	return fmt.Sprintf("\n...(%d bytes truncated)...\n", omitted)
}

// Buffer is a concurrency-safe, bounded output buffer with a delivery
// cursor. The zero value is not usable; call New.
type Buffer struct {
	mu        sync.Mutex
	headLimit int
	tailLimit int

	head    []byte
	tail    []byte // ring contents in order, at most tailLimit bytes
	omitted int64

	total     int64
	lastByte  byte
	lastWrite time.Time
	changed   chan struct{}
}

// New creates a buffer that keeps at most headBytes from the start and
// tailBytes from the end of the undelivered output. Non-positive limits
// fall back to the defaults.
func New(headBytes, tailBytes int) *Buffer {
	if headBytes <= 0 {
		headBytes = DefaultHeadBytes
	}
	if tailBytes <= 0 {
		tailBytes = DefaultTailBytes
	}
	return &Buffer{
		headLimit: headBytes,
		tailLimit: tailBytes,
		changed:   make(chan struct{}),
	}
}

// Write appends p. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	b.total += int64(n)
	b.lastByte = p[n-1]
	b.lastWrite = time.Now()

	if room := b.headLimit - len(b.head); room > 0 && b.omitted == 0 && len(b.tail) == 0 {
		take := min(room, len(p))
		b.head = append(b.head, p[:take]...)
		p = p[take:]
	}

	if len(p) > 0 {
		b.tail = append(b.tail, p...)
		if over := len(b.tail) - b.tailLimit; over > 0 {
			b.omitted += int64(over)
			b.tail = append(b.tail[:0], b.tail[over:]...)
		}
	}

	close(b.changed)
	b.changed = make(chan struct{})
	return n, nil
}

// WriteString appends s.
func (b *Buffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// Delta returns everything written since the previous Delta and advances
// the cursor.
func (b *Buffer) Delta() Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.head) == 0 && len(b.tail) == 0 {
		return Chunk{Empty: true, TotalBytes: b.total}
	}

	head, tail := b.head, b.tail
	omitted := b.omitted

	// Cut at rune boundaries so the marker never splits a character.
	if omitted > 0 {
		if n := incompleteSuffix(head); n > 0 {
			head = head[:len(head)-n]
			omitted += int64(n)
		}
		for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
			tail = tail[1:]
			omitted++
		}
	}

	var text string
	if omitted > 0 {
		text = string(head) + TruncationMarker(omitted) + string(tail)
	} else {
		text = string(head) + string(tail)
	}

	b.head = nil
	b.tail = nil
	b.omitted = 0

	return Chunk{Text: text, OmittedBytes: omitted, TotalBytes: b.total}
}

// incompleteSuffix returns the length of a trailing partial UTF-8
// sequence in p, or 0 when p ends on a complete rune.
func incompleteSuffix(p []byte) int {
	for i := 1; i <= utf8.UTFMax && i <= len(p); i++ {
		if utf8.RuneStart(p[len(p)-i]) {
			if utf8.FullRune(p[len(p)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}

// Pending returns the number of undelivered bytes, including omitted ones.
func (b *Buffer) Pending() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.head)+len(b.tail)) + b.omitted
}

// Changed returns a channel closed on the next Write.
func (b *Buffer) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changed
}

// LastWrite returns the time of the most recent Write.
func (b *Buffer) LastWrite() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastWrite
}

// EndsWithNewline reports whether the last byte written was '\n'. A fresh
// buffer counts as ending with a newline.
func (b *Buffer) EndsWithNewline() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total == 0 || b.lastByte == '\n'
}

// Reset drops undelivered output and zeroes the totals.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = nil
	b.tail = nil
	b.omitted = 0
	b.total = 0
	b.lastByte = 0
}

// Truncate applies the head/tail policy to a complete string, for output
// that never passed through a Buffer.
func Truncate(s string, headBytes, tailBytes int) Chunk {
	b := New(headBytes, tailBytes)
	b.WriteString(s)
	return b.Delta()
}
