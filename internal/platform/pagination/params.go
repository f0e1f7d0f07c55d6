// Package pagination carries keyset page requests from query strings to the repositories.
package pagination

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
)

// ErrInvalidPageSize indicates page_size was not an integer.
var ErrInvalidPageSize = errors.New("pagination: page_size must be an integer")

// Params is a page request: how many items and where to resume.
type Params struct {
	PageSize  int
	PageToken string
}

// ParseQuery reads page_size and page_token. Sizes outside [1, DefaultMaxPageSize] are clamped
// rather than rejected; only a non-numeric size is an error.
func ParseQuery(values url.Values) (Params, error) {
	params := Params{PageToken: strings.TrimSpace(values.Get("page_token"))}
	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, ErrInvalidPageSize
		}
		params.PageSize = size
	}
	params.PageSize = ClampPageSize(params.PageSize)
	return params, nil
}

// ClampPageSize maps non-positive sizes to the default and caps the rest.
func ClampPageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	return min(size, DefaultMaxPageSize)
}
