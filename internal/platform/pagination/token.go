package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPageToken indicates the page token could not be decoded.
var ErrInvalidPageToken = errors.New("pagination: invalid page token")

// Cursor is the keyset position of the last item on a page. Every list is ordered newest
// first: CreatedAt desc, then ID desc.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (c Cursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

// After reports whether the item (createdAt, id) belongs on a page following c.
func (c Cursor) After(createdAt time.Time, id string) bool {
	switch {
	case c.IsZero():
		return true
	case createdAt.Equal(c.CreatedAt):
		return id < c.ID
	default:
		return createdAt.Before(c.CreatedAt)
	}
}

// EncodeToken renders the cursor as base64url("<unix nanos>.<id>"). The zero cursor encodes to
// the empty token.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	if cursor.ID == "" {
		return "", errors.New("pagination: cursor without id")
	}
	raw := strconv.FormatInt(cursor.CreatedAt.UnixNano(), 10) + "." + cursor.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// DecodeToken reverses EncodeToken; the empty token is the zero cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	nanos, id, ok := strings.Cut(string(raw), ".")
	if !ok || id == "" {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrInvalidPageToken)
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}
