package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PredictionEvent represents a prediction or model lifecycle event
type PredictionEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	Model          string                 `json:"model"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Success        bool                   `json:"success"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of event
type EventType string

const (
	PredictionStarted   EventType = "prediction_started"
	PredictionCompleted EventType = "prediction_completed"
	PredictionFailed    EventType = "prediction_failed"
	ModelLoaded         EventType = "model_loaded"
	ModelLoadFailed     EventType = "model_load_failed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event PredictionEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event PredictionEvent)
}

// LoggingObserver logs events
type LoggingObserver struct {
	logger *logrus.Logger
}

func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

func (o *LoggingObserver) OnEvent(ctx context.Context, event PredictionEvent) {
	fields := logrus.Fields{
		"event_type":         event.EventType,
		"model":              event.Model,
		"processing_time_ms": event.ProcessingTime.Milliseconds(),
		"success":            event.Success,
	}

	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case PredictionStarted:
		entry.Debug("Prediction started")
	case PredictionCompleted:
		entry.Info("Prediction completed")
	case PredictionFailed:
		entry.Error("Prediction failed")
	case ModelLoaded:
		entry.Info("Model loaded")
	case ModelLoadFailed:
		entry.Error("Model load failed")
	default:
		entry.Info("Prediction event occurred")
	}
}

func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// ModelStats holds per-model counters.
type ModelStats struct {
	Predictions     int64 `json:"predictions"`
	Failures        int64 `json:"failures"`
	AvgProcessingMS int64 `json:"avg_processing_ms"`
	LoadTimeMS      int64 `json:"load_time_ms,omitempty"`
}

// Snapshot is the aggregated view exposed by MetricsObserver.
type Snapshot struct {
	TotalPredictions      int64                 `json:"total_predictions"`
	SuccessfulPredictions int64                 `json:"successful_predictions"`
	FailedPredictions     int64                 `json:"failed_predictions"`
	AvgProcessingMS       int64                 `json:"avg_processing_ms"`
	Models                map[string]ModelStats `json:"models"`
}

type modelCounters struct {
	predictions int64
	failures    int64
	processing  time.Duration
	loadTime    time.Duration
}

// MetricsObserver collects counters from events
type MetricsObserver struct {
	mu                    sync.RWMutex
	totalPredictions      int64
	successfulPredictions int64
	failedPredictions     int64
	totalProcessingTime   time.Duration
	models                map[string]*modelCounters
}

func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{models: make(map[string]*modelCounters)}
}

func (o *MetricsObserver) counters(model string) *modelCounters {
	c, ok := o.models[model]
	if !ok {
		c = &modelCounters{}
		o.models[model] = c
	}
	return c
}

func (o *MetricsObserver) OnEvent(ctx context.Context, event PredictionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case PredictionStarted:
		o.totalPredictions++
	case PredictionCompleted:
		o.successfulPredictions++
		o.totalProcessingTime += event.ProcessingTime
		c := o.counters(event.Model)
		c.predictions++
		c.processing += event.ProcessingTime
	case PredictionFailed:
		o.failedPredictions++
		if event.Model != "" {
			o.counters(event.Model).failures++
		}
	case ModelLoaded:
		o.counters(event.Model).loadTime = event.ProcessingTime
	}
}

func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current counters
func (o *MetricsObserver) GetMetrics() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snap := Snapshot{
		TotalPredictions:      o.totalPredictions,
		SuccessfulPredictions: o.successfulPredictions,
		FailedPredictions:     o.failedPredictions,
		Models:                make(map[string]ModelStats, len(o.models)),
	}
	if o.successfulPredictions > 0 {
		snap.AvgProcessingMS = (o.totalProcessingTime / time.Duration(o.successfulPredictions)).Milliseconds()
	}
	for name, c := range o.models {
		ms := ModelStats{
			Predictions: c.predictions,
			Failures:    c.failures,
			LoadTimeMS:  c.loadTime.Milliseconds(),
		}
		if c.predictions > 0 {
			ms.AvgProcessingMS = (c.processing / time.Duration(c.predictions)).Milliseconds()
		}
		snap.Models[name] = ms
	}
	return snap
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
	pending   sync.WaitGroup
}

func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers the event to every observer on its own goroutine.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event PredictionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	// Observers outlive the request, so they must not see its cancellation.
	ctx = context.WithoutCancel(ctx)
	for _, observer := range observers {
		p.pending.Add(1)
		go func(obs Observer) {
			defer p.pending.Done()
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}

// Flush waits for in-flight notifications to finish.
func (p *EventPublisher) Flush() {
	p.pending.Wait()
}
