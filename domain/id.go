package domain

import (
	"crypto/rand"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	idRandomChars = 6
	base36        = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// IDGenerator produces short identifiers that sort by creation time: a
// base-36 millisecond timestamp followed by random base-36 characters,
// uppercased.
type IDGenerator struct {
	now     func() time.Time
	entropy io.Reader

	lastMillis atomic.Int64
}

// NewIDGenerator returns a generator using the given clock and entropy
// source. Nil arguments fall back to time.Now and crypto/rand.
func NewIDGenerator(now func() time.Time, entropy io.Reader) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	if entropy == nil {
		entropy = rand.Reader
	}
	return &IDGenerator{now: now, entropy: entropy}
}

// NewID returns a fresh identifier.
func (g *IDGenerator) NewID() string {
	ms := g.nextMillis()
	var b strings.Builder
	b.WriteString(strconv.FormatInt(ms, 36))

	buf := make([]byte, idRandomChars)
	if _, err := io.ReadFull(g.entropy, buf); err != nil {
		// fall back to clock bits; uniqueness still comes from nextMillis
		n := g.now().UnixNano()
		for i := range buf {
			buf[i] = byte(n >> (8 * i))
		}
	}
	for _, c := range buf {
		b.WriteByte(base36[int(c)%len(base36)])
	}
	return strings.ToUpper(b.String())
}

// nextMillis returns the current time in milliseconds, never going
// backwards and never repeating within one generator.
func (g *IDGenerator) nextMillis() int64 {
	for {
		now := g.now().UnixMilli()
		last := g.lastMillis.Load()
		if now <= last {
			now = last + 1
		}
		if g.lastMillis.CompareAndSwap(last, now) {
			return now
		}
	}
}
