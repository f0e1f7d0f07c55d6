package services

import "testing"

func TestSanitizeText(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "plain", in: "  hello  ", limit: 10, want: "hello"},
		{name: "markup", in: "<script>alert(1)</script>Hi <b>there</b>", limit: 50, want: "Hi there"},
		{name: "entities", in: "Tom &amp; Jerry", limit: 50, want: "Tom & Jerry"},
		{name: "control", in: "a\x00b\x07c", limit: 10, want: "abc"},
		{name: "truncate runes", in: "こんにちは世界", limit: 5, want: "こんにちは"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeText(tc.in, tc.limit); got != tc.want {
				t.Fatalf("sanitizeText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
