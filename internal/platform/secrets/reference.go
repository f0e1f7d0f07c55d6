package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// reference is a parsed secret://name[?version=N&project=P] (or sm://) reference.
type reference struct {
	path    string // as written, e.g. "psp/signing"
	version string
	project string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	path := strings.Trim(u.Host+u.Path, "/")
	if path == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	q := u.Query()
	ref := reference{
		path:    path,
		version: strings.TrimSpace(q.Get("version")),
		project: strings.TrimSpace(q.Get("project")),
	}
	if ref.version == "" {
		ref.version = "latest"
	}
	return ref, nil
}

// id is the Secret Manager secret id; slashes are not allowed there so they become underscores.
// The fallback file is keyed by the same id.
func (r reference) id() string {
	return strings.ReplaceAll(r.path, "/", "_")
}

func (r reference) String() string {
	return "secret://" + r.path
}

func (r reference) cacheKey() string {
	return r.project + "/" + r.path + "@" + r.version
}

func (r reference) resource(defaultProject string) (string, bool) {
	project := r.project
	if project == "" {
		project = defaultProject
	}
	if project == "" {
		return "", false
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.id(), r.version), true
}
