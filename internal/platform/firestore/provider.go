package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/panierapp/api/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

var ErrProviderClosed = errors.New("firestore: provider is closed")

type initResult struct {
	client *firestore.Client
	err    error
}

// Provider hands out one shared Firestore client, created on first use.
// Concurrent first callers wait on the same initialisation instead of
// dialing multiple clients.
type Provider struct {
	cfg         config.FirestoreConfig
	dialTimeout time.Duration
	clientOpts  []option.ClientOption

	stateMu sync.Mutex
	initCh  chan initResult
	client  *firestore.Client

	closed atomic.Bool
}

// ProviderOption customises the Provider.
type ProviderOption func(*Provider)

// WithDialTimeout bounds client creation.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions appends extra options for client creation.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// NewProvider builds a Provider from the Firestore config section.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{cfg: cfg, dialTimeout: defaultDialTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// Client returns the shared client, initialising it on first call.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if ctx == nil {
		return nil, errors.New("firestore: context is required")
	}
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}

	p.stateMu.Lock()
	if p.client != nil {
		client := p.client
		p.stateMu.Unlock()
		return client, nil
	}
	if p.closed.Load() {
		p.stateMu.Unlock()
		return nil, ErrProviderClosed
	}

	// Another goroutine is already dialing; wait for its result.
	if waitCh := p.initCh; waitCh != nil {
		p.stateMu.Unlock()
		return p.awaitInit(ctx, waitCh)
	}

	waitCh := make(chan initResult, 1)
	p.initCh = waitCh
	p.stateMu.Unlock()

	return p.dialAndPublish(ctx, waitCh)
}

// awaitInit blocks until the in-flight initialisation completes or the
// caller's context is cancelled.
func (p *Provider) awaitInit(ctx context.Context, waitCh <-chan initResult) (*firestore.Client, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-waitCh:
		if res.err != nil {
			return nil, res.err
		}
		if p.closed.Load() {
			return nil, ErrProviderClosed
		}
		if !ok || res.client == nil {
			// The buffered result went to another waiter; the cached
			// client is published by now.
			return p.Client(ctx)
		}
		return res.client, nil
	}
}

// dialAndPublish creates the client and shares the outcome with any waiters.
func (p *Provider) dialAndPublish(ctx context.Context, waitCh chan initResult) (*firestore.Client, error) {
	client, err := p.createClient(ctx)

	p.stateMu.Lock()
	if err != nil {
		p.client = nil
	} else {
		p.client = client
	}
	p.initCh = nil
	p.stateMu.Unlock()

	if err != nil {
		waitCh <- initResult{err: err}
		close(waitCh)
		return nil, err
	}

	waitCh <- initResult{client: client}
	close(waitCh)

	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	return client, nil
}

func (p *Provider) createClient(ctx context.Context) (*firestore.Client, error) {
	if p.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.dialTimeout)
		defer cancel()
	}

	projectID := strings.TrimSpace(p.cfg.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(os.Getenv(envGoogleProjectID))
	}
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}

	opts := append([]option.ClientOption(nil), p.clientOpts...)
	if host := p.emulatorHost(); host != "" {
		if os.Getenv(envEmulatorHost) == "" {
			_ = os.Setenv(envEmulatorHost, host)
		}
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return client, nil
}

// Close shuts down the client. The provider cannot be reused afterwards.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil || p.closed.Load() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var client *firestore.Client
	for {
		if p.closed.Load() {
			return nil
		}

		p.stateMu.Lock()
		if p.closed.Load() {
			p.stateMu.Unlock()
			return nil
		}
		// Let in-flight initialisation finish before tearing down.
		if waitCh := p.initCh; waitCh != nil {
			p.stateMu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-waitCh:
				continue
			}
		}

		p.closed.Store(true)
		client = p.client
		p.client = nil
		p.stateMu.Unlock()
		break
	}

	if client == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- client.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// RunTransaction runs fn against the provider's client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

func (p *Provider) emulatorHost() string {
	if host := strings.TrimSpace(p.cfg.EmulatorHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv(envEmulatorHost))
}
