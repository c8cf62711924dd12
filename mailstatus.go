package mailstatus

import (
	"context"
	"fmt"
	"net/http"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-mailstatus/core"
	"github.com/goliatone/go-mailstatus/dispatch"
	"github.com/goliatone/go-mailstatus/httpapi"
	"github.com/goliatone/go-mailstatus/retention"
	"github.com/goliatone/go-mailstatus/sns"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type Config = core.Config

type Logger = core.Logger

type MessageStore = core.MessageStore
type EventStore = core.EventStore
type RecipientDirectory = core.RecipientDirectory
type SubscriptionConfirmer = core.SubscriptionConfirmer
type MetricsRecorder = core.MetricsRecorder

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Service wires payload verification, notification dispatch, retention
// and the webhook router behind one setup call.
type Service struct {
	config     core.Config
	logger     core.Logger
	dispatcher *dispatch.Dispatcher
	sweeper    *retention.Sweeper
	handler    *httpapi.WebhookHandler
}

type setupOptions struct {
	logger         core.Logger
	metrics        core.MetricsRecorder
	httpClient     *http.Client
	certificates   sns.CertificateSource
	certCache      repositorycache.CacheService
	confirmer      core.SubscriptionConfirmer
	messages       core.MessageStore
	events         core.EventStore
	directory      core.RecipientDirectory
	configProvider core.ConfigProvider
}

type Option func(*setupOptions)

func WithLogger(logger core.Logger) Option {
	return func(o *setupOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *setupOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *setupOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithCertificateSource replaces the HTTP certificate fetcher, e.g. with
// a pre-seeded source in tests.
func WithCertificateSource(source sns.CertificateSource) Option {
	return func(o *setupOptions) {
		if source != nil {
			o.certificates = source
		}
	}
}

// WithCertificateCache wraps the certificate source with a read-through
// cache keyed by signing certificate URL.
func WithCertificateCache(cacheService repositorycache.CacheService) Option {
	return func(o *setupOptions) {
		if cacheService != nil {
			o.certCache = cacheService
		}
	}
}

func WithSubscriptionConfirmer(confirmer core.SubscriptionConfirmer) Option {
	return func(o *setupOptions) {
		if confirmer != nil {
			o.confirmer = confirmer
		}
	}
}

func WithMessageStore(store core.MessageStore) Option {
	return func(o *setupOptions) {
		if store != nil {
			o.messages = store
		}
	}
}

func WithEventStore(store core.EventStore) Option {
	return func(o *setupOptions) {
		if store != nil {
			o.events = store
		}
	}
}

func WithRecipientDirectory(directory core.RecipientDirectory) Option {
	return func(o *setupOptions) {
		if directory != nil {
			o.directory = directory
		}
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(o *setupOptions) {
		if provider != nil {
			o.configProvider = provider
		}
	}
}

// Setup resolves configuration, builds the verification chain and returns
// a ready Service. Stores are the only hard requirement; everything else
// has a default.
func Setup(ctx context.Context, cfg Config, options ...Option) (*Service, error) {
	o := setupOptions{
		httpClient: http.DefaultClient,
		metrics:    core.NopMetricsRecorder{},
	}
	for _, option := range options {
		option(&o)
	}

	if o.configProvider != nil {
		resolved, err := o.configProvider.Load(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("mailstatus: config load failed: %w", err)
		}
		cfg = resolved
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.messages == nil || o.events == nil || o.directory == nil {
		return nil, fmt.Errorf("mailstatus: message store, event store and recipient directory are required")
	}

	logger := glog.Ensure(o.logger)

	certificates := o.certificates
	if certificates == nil {
		certificates = sns.NewCertificateFetcher(o.httpClient, cfg.CertFetchTimeout())
	}
	if o.certCache != nil {
		cached, err := sns.NewCachedCertificateSource(certificates, o.certCache)
		if err != nil {
			return nil, err
		}
		certificates = cached
	}

	verifier, err := sns.NewVerifier(certificates, cfg.Verification.Topics)
	if err != nil {
		return nil, err
	}
	verifier.FreshnessWindow = cfg.FreshnessWindow()

	confirmer := o.confirmer
	if confirmer == nil {
		confirmer = sns.NewHTTPSubscriptionConfirmer(o.httpClient, cfg.CertFetchTimeout())
	}

	dispatcher, err := dispatch.NewDispatcher(
		verifier,
		o.messages,
		o.events,
		o.directory,
		confirmer,
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(o.metrics),
		dispatch.WithSoftBounceThreshold(cfg.Delivery.SoftBounceThreshold),
	)
	if err != nil {
		return nil, err
	}

	sweeper, err := retention.NewSweeper(
		o.messages,
		cfg.ActiveRetentionWindow(),
		cfg.MaxRetentionWindow(),
		retention.WithLogger(logger),
		retention.WithMetrics(o.metrics),
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:     cfg,
		logger:     logger,
		dispatcher: dispatcher,
		sweeper:    sweeper,
		handler:    httpapi.NewWebhookHandler(dispatcher, logger),
	}, nil
}

func (s *Service) Config() Config {
	return s.config
}

func (s *Service) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

func (s *Service) Sweeper() *retention.Sweeper {
	return s.sweeper
}

// Routes returns the webhook router, ready to mount on an HTTP server.
func (s *Service) Routes() http.Handler {
	return s.handler.Routes()
}
