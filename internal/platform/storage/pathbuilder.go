package storage

import (
	"fmt"
	"path"
	"strings"
)

// objectSegment is one validated component of an object name.
type objectSegment struct {
	field string
	value string
}

// designProofObject names a staff proof upload:
//
//	<prefix>/orders/<orderID>/items/<itemID>/<uploadID>-<fileName>
//
// Each upload gets its own object so earlier revisions stay readable.
func designProofObject(prefix, orderID, itemID, uploadID, fileName string) (string, error) {
	segments := []objectSegment{
		{"order id", orderID},
		{"order item id", itemID},
		{"upload id", uploadID},
		{"file name", fileName},
	}
	for i := range segments {
		value, err := cleanSegment(segments[i])
		if err != nil {
			return "", err
		}
		segments[i].value = value
	}

	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if strings.Contains(prefix, "..") {
		return "", fmt.Errorf("storage: prefix %q escapes the bucket root", prefix)
	}
	name := segments[2].value + "-" + safeFileName(segments[3].value)
	return path.Join(prefix, "orders", segments[0].value, "items", segments[1].value, name), nil
}

func cleanSegment(seg objectSegment) (string, error) {
	value := strings.TrimSpace(seg.value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", seg.field)
	case strings.ContainsAny(value, `/\`):
		return "", fmt.Errorf("storage: %s must not contain path separators", seg.field)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s must not contain %q", seg.field, "..")
	}
	return value, nil
}

// safeFileName keeps letters, digits, dot, dash and underscore and folds everything else to a
// dash, so customer supplied names never need URL escaping in gs:// references.
func safeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
