package classifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/internal/observer"
	"github.com/anime-shed/image-classifier-go/internal/storage"
	"github.com/anime-shed/image-classifier-go/internal/workerpool"

	"github.com/sirupsen/logrus"
)

// Model is a loaded network ready for inference.
type Model struct {
	config  ModelConfig
	session Session
	vocab   *Vocabulary
}

func (m *Model) Name() ModelName {
	return m.config.Name
}

func (m *Model) Config() ModelConfig {
	return m.config
}

// Infer runs the forward pass on a preprocessed input.
func (m *Model) Infer(input []float32) ([]float32, error) {
	return m.session.Run(input)
}

// Decode maps raw output scores to the top-1 prediction.
func (m *Model) Decode(scores []float32) (Prediction, error) {
	return DecodeTop1(scores, m.vocab)
}

type registryEntry struct {
	mu    sync.Mutex // held for the whole check-then-load sequence
	model atomic.Pointer[Model]
}

// Registry lazily loads each model on first use and keeps it for the
// lifetime of the process. Every entry is loaded at most once; a failed
// load leaves the entry empty so a later call can try again.
type Registry struct {
	source storage.WeightSource
	loader SessionLoader
	events observer.Subject

	entries [numModels]registryEntry

	vocabMu sync.Mutex
	vocab   *Vocabulary
}

// NewRegistry creates an empty registry. events may be nil.
func NewRegistry(source storage.WeightSource, loader SessionLoader, events observer.Subject) *Registry {
	return &Registry{
		source: source,
		loader: loader,
		events: events,
	}
}

// Get returns the model for name, loading it first if needed. Loading blocks
// the caller and any concurrent callers asking for the same model.
func (r *Registry) Get(ctx context.Context, name ModelName) (*Model, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidModel, name)
	}
	e := &r.entries[name]
	if m := e.model.Load(); m != nil {
		return m, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if m := e.model.Load(); m != nil {
		return m, nil
	}

	started := time.Now()
	logger.WithField("model", name.String()).Info("Loading model")

	m, err := r.load(ctx, name)
	elapsed := time.Since(started)
	if err != nil {
		r.notify(ctx, observer.PredictionEvent{
			EventType:      observer.ModelLoadFailed,
			Model:          name.String(),
			ProcessingTime: elapsed,
			ErrorMessage:   err.Error(),
		})
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	e.model.Store(m)
	logger.WithFields(logrus.Fields{
		"model":        name.String(),
		"load_time_ms": elapsed.Milliseconds(),
	}).Info("Model loaded successfully")
	r.notify(ctx, observer.PredictionEvent{
		EventType:      observer.ModelLoaded,
		Model:          name.String(),
		ProcessingTime: elapsed,
		Success:        true,
	})
	return m, nil
}

func (r *Registry) load(ctx context.Context, name ModelName) (*Model, error) {
	cfg, err := Config(name)
	if err != nil {
		return nil, err
	}

	vocab, err := r.vocabulary(ctx)
	if err != nil {
		return nil, err
	}

	path, err := r.source.Resolve(ctx, cfg.WeightsFile)
	if err != nil {
		return nil, fmt.Errorf("resolve weights via %s source: %w", r.source.Name(), err)
	}

	session, err := r.loader(ctx, cfg, path)
	if err != nil {
		return nil, err
	}

	return &Model{config: cfg, session: session, vocab: vocab}, nil
}

// vocabulary loads the shared label vocabulary once.
func (r *Registry) vocabulary(ctx context.Context) (*Vocabulary, error) {
	r.vocabMu.Lock()
	defer r.vocabMu.Unlock()

	if r.vocab != nil {
		return r.vocab, nil
	}
	path, err := r.source.Resolve(ctx, VocabularyFile)
	if err != nil {
		return nil, fmt.Errorf("resolve vocabulary via %s source: %w", r.source.Name(), err)
	}
	vocab, err := LoadVocabularyFile(path)
	if err != nil {
		return nil, err
	}
	r.vocab = vocab
	return vocab, nil
}

// Loaded lists the models whose handle is populated, in declaration order.
func (r *Registry) Loaded() []ModelName {
	out := make([]ModelName, 0, numModels)
	for n := ModelName(0); n < numModels; n++ {
		if r.entries[n].model.Load() != nil {
			out = append(out, n)
		}
	}
	return out
}

// Preload loads the given models concurrently and reports every failure.
func (r *Registry) Preload(ctx context.Context, names []ModelName) error {
	if len(names) == 0 {
		return nil
	}

	pool := workerpool.NewWorkerPool(len(names))
	pool.Start()
	defer pool.Close()

	var mu sync.Mutex
	var errs []error
	for _, name := range names {
		pool.Submit(func() {
			if _, err := r.Get(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	pool.Wait()

	stats := pool.GetStats()
	logger.WithFields(logrus.Fields{
		"requested": len(names),
		"completed": stats.CompletedJobs,
		"failed":    len(errs),
	}).Info("Model preload finished")

	return errors.Join(errs...)
}

// Close destroys every loaded session. The registry must not be used after.
func (r *Registry) Close() error {
	var errs []error
	for n := ModelName(0); n < numModels; n++ {
		e := &r.entries[n]
		e.mu.Lock()
		if m := e.model.Swap(nil); m != nil {
			if err := m.session.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", n, err))
			}
		}
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (r *Registry) notify(ctx context.Context, event observer.PredictionEvent) {
	if r.events != nil {
		r.events.NotifyObservers(ctx, event)
	}
}
