package services

import (
	"crypto/rand"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	orderNumberAlphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	orderNumberSuffixLength = 5
)

// OrderNumberGenerator builds human-legible order numbers: the creation time in base36
// milliseconds, a dash and a random base36 suffix. Values sort roughly by creation time.
// Uniqueness is enforced by storage; callers retry on collision.
type OrderNumberGenerator struct {
	Clock  func() time.Time
	Random io.Reader
}

// NewOrderNumberGenerator returns a generator using the wall clock and crypto/rand.
func NewOrderNumberGenerator() *OrderNumberGenerator {
	return &OrderNumberGenerator{Clock: time.Now, Random: rand.Reader}
}

// Generate returns a new order number such as "MG5X2K8Q1-7RZ4A".
func (g *OrderNumberGenerator) Generate() string {
	clock := g.Clock
	if clock == nil {
		clock = time.Now
	}
	random := g.Random
	if random == nil {
		random = rand.Reader
	}

	prefix := strings.ToUpper(strconv.FormatInt(clock().UTC().UnixMilli(), 36))

	buf := make([]byte, orderNumberSuffixLength)
	if _, err := io.ReadFull(random, buf); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to the clock's nanoseconds.
		n := clock().UnixNano()
		for i := range buf {
			buf[i] = byte(n >> (8 * i))
		}
	}
	suffix := make([]byte, orderNumberSuffixLength)
	for i, b := range buf {
		suffix[i] = orderNumberAlphabet[int(b)%len(orderNumberAlphabet)]
	}
	return prefix + "-" + string(suffix)
}
