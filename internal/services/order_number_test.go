package services

import (
	"bytes"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"
)

var orderNumberPattern = regexp.MustCompile(`^[0-9A-Z]+-[0-9A-Z]{5}$`)

func TestOrderNumberGenerator_Format(t *testing.T) {
	gen := &OrderNumberGenerator{
		Clock:  func() time.Time { return time.UnixMilli(1714555800000) },
		Random: bytes.NewReader([]byte{0, 1, 35, 36, 71}),
	}
	got := gen.Generate()
	if got != "LVNM9680-01Z0Z" {
		t.Fatalf("unexpected order number %q", got)
	}
}

func TestOrderNumberGenerator_UniqueAndSortable(t *testing.T) {
	gen := NewOrderNumberGenerator()
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		n := gen.Generate()
		if !orderNumberPattern.MatchString(n) {
			t.Fatalf("order number %q is not display safe", n)
		}
		if _, dup := seen[n]; dup {
			t.Fatalf("duplicate order number %q", n)
		}
		seen[n] = struct{}{}
	}

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var prefixes []string
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		g := &OrderNumberGenerator{Clock: func() time.Time { return at }}
		prefixes = append(prefixes, strings.SplitN(g.Generate(), "-", 2)[0])
	}
	if !sort.StringsAreSorted(prefixes) {
		t.Fatalf("prefixes must sort by creation time: %v", prefixes)
	}
}
