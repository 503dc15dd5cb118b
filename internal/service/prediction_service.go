package service

import (
	"context"
	"fmt"
	"time"

	"github.com/anime-shed/image-classifier-go/internal/classifier"
	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/history"
	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/internal/observer"
	"github.com/anime-shed/image-classifier-go/pkg/models"
	"github.com/anime-shed/image-classifier-go/pkg/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxSuggestionDistance bounds how far a mistyped model name may be from a
// real one before no suggestion is offered.
const maxSuggestionDistance = 4

// PredictRequest is one classification call.
type PredictRequest struct {
	Model string
	Image []byte
}

// PredictionService classifies uploaded images with one of the supported
// networks and keeps a log of completed runs.
type PredictionService interface {
	Predict(ctx context.Context, req PredictRequest) (*models.PredictionResponse, error)

	// LoadedModels lists models already resident in memory.
	LoadedModels() []string

	History(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	Stats() observer.Snapshot
}

type predictionService struct {
	registry  *classifier.Registry
	store     history.Store
	events    observer.Subject
	metrics   *observer.MetricsObserver
	suggester *validation.ModelSuggester
	maxPixels int64
}

// Option customizes a PredictionService.
type Option func(*predictionService)

// WithMaxImagePixels caps the decoded image area. Zero keeps
// classifier.DefaultMaxImagePixels.
func WithMaxImagePixels(n int64) Option {
	return func(s *predictionService) {
		s.maxPixels = n
	}
}

// NewPredictionService wires a registry to a history store. events and
// metrics may be nil.
func NewPredictionService(
	registry *classifier.Registry,
	store history.Store,
	events observer.Subject,
	metrics *observer.MetricsObserver,
	opts ...Option,
) PredictionService {
	s := &predictionService{
		registry:  registry,
		store:     store,
		events:    events,
		metrics:   metrics,
		suggester: validation.NewModelSuggester(classifier.ModelNames(), maxSuggestionDistance),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Predict runs the full pipeline: resolve the model (loading it on first
// use), decode and preprocess the image, infer, and decode the top-1 label.
// The model is resolved before the image is touched, so an unreadable upload
// still leaves the requested model loaded.
func (s *predictionService) Predict(ctx context.Context, req PredictRequest) (*models.PredictionResponse, error) {
	name, err := classifier.ParseModelName(req.Model)
	if err != nil {
		appErr := apperrors.NewInvalidInputError(fmt.Sprintf("Invalid model: %s", req.Model), err)
		if suggestion := s.suggester.Suggest(req.Model); suggestion != "" {
			appErr = appErr.WithDetails(fmt.Sprintf("Did you mean %s?", suggestion))
		}
		return nil, appErr
	}

	totalStart := time.Now()
	s.notify(ctx, observer.PredictionEvent{
		EventType: observer.PredictionStarted,
		Model:     name.String(),
		Metadata:  map[string]interface{}{"image_bytes": len(req.Image)},
	})

	resp, err := s.predict(ctx, name, req.Image, totalStart)
	if err != nil {
		s.notify(ctx, observer.PredictionEvent{
			EventType:      observer.PredictionFailed,
			Model:          name.String(),
			ProcessingTime: time.Since(totalStart),
			ErrorMessage:   err.Error(),
		})
		return nil, apperrors.NewInternalError(err.Error(), err)
	}

	s.notify(ctx, observer.PredictionEvent{
		EventType:      observer.PredictionCompleted,
		Model:          name.String(),
		ProcessingTime: time.Since(totalStart),
		Success:        true,
		Metadata: map[string]interface{}{
			"output":     resp.Output,
			"confidence": resp.Confidence,
		},
	})
	s.record(ctx, resp, totalStart)

	return resp, nil
}

func (s *predictionService) predict(ctx context.Context, name classifier.ModelName, data []byte, totalStart time.Time) (*models.PredictionResponse, error) {
	model, err := s.registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	input, err := classifier.Preprocess(data, model.Config(), s.maxPixels)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inferStart := time.Now()
	scores, err := model.Infer(input)
	latency := time.Since(inferStart)
	if err != nil {
		return nil, err
	}

	pred, err := model.Decode(scores)
	if err != nil {
		return nil, err
	}

	return &models.PredictionResponse{
		Model:        name.String(),
		Output:       pred.Label,
		Confidence:   float64(pred.Confidence),
		Latency:      latency.Milliseconds(),
		TotalLatency: time.Since(totalStart).Milliseconds(),
	}, nil
}

// record appends a completed prediction to the history. Failures are logged
// and never surface to the caller.
func (s *predictionService) record(ctx context.Context, resp *models.PredictionResponse, at time.Time) {
	if s.store == nil {
		return
	}
	entry := history.Entry{
		ID:             uuid.NewString(),
		Model:          resp.Model,
		Output:         resp.Output,
		Confidence:     resp.Confidence,
		LatencyMS:      resp.Latency,
		TotalLatencyMS: resp.TotalLatency,
		CreatedAt:      at.UTC(),
	}
	if err := s.store.Add(context.WithoutCancel(ctx), entry); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"model": resp.Model,
		}).Warn("Failed to record prediction history")
	}
}

func (s *predictionService) LoadedModels() []string {
	loaded := s.registry.Loaded()
	names := make([]string, 0, len(loaded))
	for _, n := range loaded {
		names = append(names, n.String())
	}
	return names
}

func (s *predictionService) History(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	if s.store == nil {
		return []models.HistoryEntry{}, nil
	}
	entries, err := s.store.Recent(ctx, limit)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read prediction history", err)
	}

	out := make([]models.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.HistoryEntry{
			ID:           e.ID,
			Model:        e.Model,
			Output:       e.Output,
			Confidence:   e.Confidence,
			Latency:      e.LatencyMS,
			TotalLatency: e.TotalLatencyMS,
			Timestamp:    e.CreatedAt,
		})
	}
	return out, nil
}

func (s *predictionService) Stats() observer.Snapshot {
	if s.metrics == nil {
		return observer.Snapshot{Models: map[string]observer.ModelStats{}}
	}
	return s.metrics.GetMetrics()
}

func (s *predictionService) notify(ctx context.Context, event observer.PredictionEvent) {
	if s.events != nil {
		s.events.NotifyObservers(ctx, event)
	}
}
