// Package secrets resolves secret:// configuration references against Google Secret Manager,
// with a local dotenv file as the offline fallback.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/hanko-field/storefront/internal/platform/secrets"
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (accessor, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// accessor is the subset of the Secret Manager client the fetcher uses.
type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves and caches secret references for the process lifetime.
type Fetcher struct {
	remote     accessor
	ownsRemote bool
	project    string
	logger     *zap.Logger
	lookups    metric.Int64Counter
	inflight   singleflight.Group
	local      func() map[string]string
	mu         sync.RWMutex
	cache      map[string]string
}

type settings struct {
	logger       *zap.Logger
	project      string
	fallbackPath string
	meter        metric.Meter
	remote       accessor
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithProject sets the project for references without ?project=.
func WithProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

// WithFallbackFile points at the local secrets file; "" disables the fallback.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithClientOptions forwards options to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

func withAccessor(a accessor) Option {
	return func(s *settings) { s.remote = a }
}

// NewFetcher builds a Fetcher. When no Secret Manager client can be created (no credentials on a
// laptop, for instance) it logs a warning and serves from the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{fallbackPath: defaultFallbackPath, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}
	lookups, err := s.meter.Int64Counter("secrets.lookups", metric.WithDescription("Secret resolutions by source"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register metric: %w", err)
	}

	f := &Fetcher{
		remote:  s.remote,
		project: s.project,
		logger:  s.logger,
		lookups: lookups,
		cache:   make(map[string]string),
	}
	f.local = sync.OnceValue(func() map[string]string { return readFallback(s.fallbackPath, s.logger) })
	if f.remote == nil {
		client, err := newSecretManagerClient(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.remote, f.ownsRemote = client, true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsRemote && f.remote != nil {
		return f.remote.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref: cache first, then Secret Manager, then the fallback file
// when Secret Manager is unreachable or refuses access.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	key := ref.cacheKey()

	f.mu.RLock()
	value, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		f.count(ctx, "cache")
		return value, nil
	}

	v, err, _ := f.inflight.Do(key, func() (any, error) {
		value, source, err := f.lookup(ctx, ref)
		if err != nil {
			f.count(ctx, "error")
			return "", err
		}
		f.mu.Lock()
		f.cache[key] = value
		f.mu.Unlock()
		f.count(ctx, source)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) lookup(ctx context.Context, ref reference) (value, source string, err error) {
	if resource, ok := ref.resource(f.project); ok && f.remote != nil {
		resp, err := f.remote.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		switch {
		case err == nil && resp.GetPayload() == nil:
			return "", "", fmt.Errorf("secrets: empty payload for %s", ref)
		case err == nil:
			return string(resp.GetPayload().GetData()), "remote", nil
		case !fallbackAllowed(err):
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref, err)
		}
		f.logger.Debug("secrets: secret manager refused, trying fallback file", zap.Stringer("ref", ref), zap.Error(err))
	}

	value, ok := f.local()[ref.id()]
	if !ok {
		return "", "", fmt.Errorf("secrets: %s not found in fallback file", ref)
	}
	return value, "fallback", nil
}

func (f *Fetcher) count(ctx context.Context, source string) {
	f.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func readFallback(path string, logger *zap.Logger) map[string]string {
	values := map[string]string{}
	if path == "" {
		return values
	}
	parsed, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("secrets: unreadable fallback file", zap.String("path", path), zap.Error(err))
		}
		return values
	}
	for k, v := range parsed {
		values[strings.TrimSpace(k)] = v
	}
	return values
}

// fallbackAllowed lists the Secret Manager failures that mean "not reachable from here" rather
// than "the secret is wrong".
func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
