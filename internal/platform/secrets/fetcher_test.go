package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeSecretManager answers AccessSecretVersion from maps keyed by resource name.
type fakeSecretManager struct {
	mu       sync.Mutex
	payloads map[string]string
	failures map[string]error
	calls    map[string]int
}

func newFakeSecretManager() *fakeSecretManager {
	return &fakeSecretManager{payloads: map[string]string{}, failures: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeSecretManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if err := f.failures[req.GetName()]; err != nil {
		return nil, err
	}
	value, ok := f.payloads[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (f *fakeSecretManager) Close() error { return nil }

func (f *fakeSecretManager) callsFor(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func writeFallback(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolveCachesSecretManagerValue(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSecretManager()
	const resource = "projects/storefront-prod/secrets/psp_signing/versions/latest"
	sm.payloads[resource] = "whsec_remote"

	fetcher, err := NewFetcher(ctx, withAccessor(sm), WithProject("storefront-prod"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fetcher.Close() })

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := fetcher.Resolve(ctx, "secret://psp/signing")
			assert.NoError(t, err)
			assert.Equal(t, "whsec_remote", value)
		}()
	}
	wg.Wait()

	value, err := fetcher.ResolveSecret(ctx, "secret://psp/signing")
	require.NoError(t, err)
	assert.Equal(t, "whsec_remote", value)
	assert.LessOrEqual(t, sm.callsFor(resource), 8)
	assert.GreaterOrEqual(t, sm.callsFor(resource), 1)
}

func TestResolveVersionAndProjectOverrides(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSecretManager()
	sm.payloads["projects/payments-shared/secrets/stripe_api_key/versions/7"] = "sk_pinned"

	fetcher, err := NewFetcher(ctx, withAccessor(sm), WithProject("storefront-prod"))
	require.NoError(t, err)

	value, err := fetcher.Resolve(ctx, "sm://stripe_api_key?version=7&project=payments-shared")
	require.NoError(t, err)
	assert.Equal(t, "sk_pinned", value)
}

func TestResolveFallbackFile(t *testing.T) {
	ctx := context.Background()
	sm := newFakeSecretManager()
	sm.failures["projects/storefront-dev/secrets/psp_signing/versions/latest"] = status.Error(codes.PermissionDenied, "caller lacks secretAccessor")

	fetcher, err := NewFetcher(ctx, withAccessor(sm), WithProject("storefront-dev"),
		WithFallbackFile(writeFallback(t, "psp_signing=whsec_local\n")))
	require.NoError(t, err)

	value, err := fetcher.Resolve(ctx, "secret://psp/signing")
	require.NoError(t, err)
	assert.Equal(t, "whsec_local", value)

	_, err = fetcher.Resolve(ctx, "secret://not/in/file?project=other")
	assert.Error(t, err)
}

func TestResolveKeepsHardErrors(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(), withAccessor(newFakeSecretManager()), WithProject("storefront-prod"),
		WithFallbackFile(writeFallback(t, "missing=would-mask-the-error\n")))
	require.NoError(t, err)

	_, err = fetcher.Resolve(context.Background(), "secret://missing")
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(errors.Unwrap(err)))
}

func TestResolveWithoutSecretManager(t *testing.T) {
	original := newSecretManagerClient
	newSecretManagerClient = func(context.Context, ...option.ClientOption) (accessor, error) {
		return nil, errors.New("could not find default credentials")
	}
	t.Cleanup(func() { newSecretManagerClient = original })

	fetcher, err := NewFetcher(context.Background(), WithFallbackFile(writeFallback(t, "stripe_api_key=sk_local\n")))
	require.NoError(t, err)
	require.NoError(t, fetcher.Close())

	value, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk_local", value)
}

func TestParseReference(t *testing.T) {
	ref, err := parseReference(" secret://psp/signing?version=3 ")
	require.NoError(t, err)
	assert.Equal(t, "psp_signing", ref.id())
	assert.Equal(t, "secret://psp/signing", ref.String())
	resource, ok := ref.resource("storefront-prod")
	assert.True(t, ok)
	assert.Equal(t, "projects/storefront-prod/secrets/psp_signing/versions/3", resource)

	_, ok = ref.resource("")
	assert.False(t, ok)

	for _, bad := range []string{"", "https://vault/psp", "secret://", "secret:///"} {
		_, err := parseReference(bad)
		assert.Error(t, err, bad)
	}
}
