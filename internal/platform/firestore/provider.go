// Package firestore owns the shared Firestore client used by the audit log sink.
package firestore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/storefront/internal/platform/config"
)

const dialTimeout = 10 * time.Second

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider dials Firestore on first use and shares the client afterwards. A failed dial is
// retried by the next caller, so a cold Firestore does not wedge the audit sink forever.
type Provider struct {
	projectID string
	emulator  string
	extra     []option.ClientOption

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises a Provider.
type ProviderOption func(*Provider)

// WithClientOptions appends options used when dialling.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) { p.extra = append(p.extra, opts...) }
}

// NewProvider resolves the project and emulator from cfg, falling back to GOOGLE_CLOUD_PROJECT
// and FIRESTORE_EMULATOR_HOST. Nothing is dialled until Client is called.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{
		projectID: cmp.Or(strings.TrimSpace(cfg.ProjectID), strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT"))),
		emulator:  cmp.Or(strings.TrimSpace(cfg.EmulatorHost), strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	}
	client, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

// Collection resolves a collection reference on the shared client.
func (p *Provider) Collection(ctx context.Context, name string) (*firestore.CollectionRef, error) {
	client, err := p.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(name), nil
}

// Ping reads at most one document from collection.
func (p *Provider) Ping(ctx context.Context, collection string) error {
	coll, err := p.Collection(ctx, collection)
	if err != nil {
		return err
	}
	docs := coll.Limit(1).Documents(ctx)
	defer docs.Stop()
	if _, err := docs.Next(); err != nil && !isDone(err) {
		return WrapError("firestore.ping", err)
	}
	return nil
}

func (p *Provider) dial(ctx context.Context) (*firestore.Client, error) {
	if p.projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	opts := append([]option.ClientOption(nil), p.extra...)
	if p.emulator != "" {
		opts = append(opts,
			option.WithEndpoint(p.emulator),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := firestore.NewClient(ctx, p.projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: dial project %s: %w", p.projectID, err)
	}
	return client, nil
}

// Close releases the client; the Provider is unusable afterwards.
func (p *Provider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.client == nil {
		return nil
	}
	client := p.client
	p.client = nil
	return client.Close()
}
