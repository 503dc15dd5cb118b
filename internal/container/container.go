package container

import (
	"context"
	"errors"
	"net/http"

	"github.com/anime-shed/image-classifier-go/internal/classifier"
	"github.com/anime-shed/image-classifier-go/internal/config"
	"github.com/anime-shed/image-classifier-go/internal/factory"
	"github.com/anime-shed/image-classifier-go/internal/history"
	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/internal/observer"
	"github.com/anime-shed/image-classifier-go/internal/service"
	"github.com/anime-shed/image-classifier-go/internal/transport"
)

// Container holds all application dependencies
type Container struct {
	config            *config.Config
	runtime           *classifier.ONNXRuntime
	registry          *classifier.Registry
	publisher         *observer.EventPublisher
	metrics           *observer.MetricsObserver
	historyStore      history.Store
	predictionService service.PredictionService
	handler           http.Handler
}

// Option customizes container construction.
type Option func(*options)

type options struct {
	loader classifier.SessionLoader
}

// WithSessionLoader replaces the ONNX Runtime loader, mostly for tests.
func WithSessionLoader(loader classifier.SessionLoader) Option {
	return func(o *options) {
		o.loader = loader
	}
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config, opts ...Option) (*Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	components := factory.NewComponentFactory()
	source, err := components.StorageFactory.CreateWeightSource(cfg)
	if err != nil {
		return nil, err
	}

	c := &Container{config: cfg}

	loader := o.loader
	if loader == nil {
		c.runtime = classifier.NewONNXRuntime(cfg.ONNXRuntimeLib)
		loader = c.runtime.Load
	}

	c.publisher = observer.NewEventPublisher()
	c.metrics = observer.NewMetricsObserver()
	c.publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	c.publisher.Subscribe(c.metrics)

	c.registry = classifier.NewRegistry(source, loader, c.publisher)

	c.historyStore, err = components.HistoryFactory.CreateHistoryStore(cfg)
	if err != nil {
		return nil, err
	}

	c.predictionService = service.NewPredictionService(c.registry, c.historyStore, c.publisher, c.metrics,
		service.WithMaxImagePixels(cfg.MaxImagePixels))
	c.handler = transport.NewHandler(c.predictionService, cfg)

	return c, nil
}

// Preload loads the models named in PRELOAD_MODELS. Unknown names are
// reported alongside load failures; valid models still load.
func (c *Container) Preload(ctx context.Context) error {
	var (
		names []classifier.ModelName
		errs  []error
	)
	for _, raw := range c.config.PreloadModels {
		name, err := classifier.ParseModelName(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		names = append(names, name)
	}
	if err := c.registry.Preload(ctx, names); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Service returns the prediction service
func (c *Container) Service() service.PredictionService {
	return c.predictionService
}

// Close releases model sessions, the runtime and the history store, then
// waits for pending event notifications.
func (c *Container) Close() error {
	var errs []error
	if err := c.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.runtime != nil {
		if err := c.runtime.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.historyStore.Close(); err != nil {
		errs = append(errs, err)
	}
	c.publisher.Flush()
	return errors.Join(errs...)
}
