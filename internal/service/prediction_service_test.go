package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/anime-shed/image-classifier-go/internal/classifier"
	"github.com/anime-shed/image-classifier-go/internal/classifier/classifiertest"
	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
	"github.com/anime-shed/image-classifier-go/internal/history"
	"github.com/anime-shed/image-classifier-go/internal/observer"
	"github.com/anime-shed/image-classifier-go/internal/storage"
)

type testEnv struct {
	service   PredictionService
	loader    *classifiertest.Loader
	publisher *observer.EventPublisher
	metrics   *observer.MetricsObserver
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	loader := classifiertest.NewLoader()
	publisher := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	publisher.Subscribe(metrics)

	source := storage.NewLocalWeightSource(classifiertest.WriteModelDir(t))
	registry := classifier.NewRegistry(source, loader.Load, publisher)
	t.Cleanup(func() { registry.Close() })

	return &testEnv{
		service:   NewPredictionService(registry, history.NewMemoryStore(10), publisher, metrics, opts...),
		loader:    loader,
		publisher: publisher,
		metrics:   metrics,
	}
}

func testImage(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPredict_AllModels(t *testing.T) {
	env := newTestEnv(t)
	data := testImage(t, color.RGBA{R: 200, G: 120, B: 40, A: 255})

	for _, name := range classifier.ModelNames() {
		t.Run(name, func(t *testing.T) {
			resp, err := env.service.Predict(context.Background(), PredictRequest{Model: name, Image: data})
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if resp.Model != name {
				t.Errorf("Expected model %s, got %s", name, resp.Model)
			}
			if resp.Output == "" {
				t.Error("Expected a non-empty label")
			}
			if resp.Confidence < 0 || resp.Confidence > 1 {
				t.Errorf("Confidence %f out of range", resp.Confidence)
			}
			if resp.Latency < 0 || resp.TotalLatency < resp.Latency {
				t.Errorf("Expected 0 <= latency (%d) <= total_latency (%d)", resp.Latency, resp.TotalLatency)
			}
		})
	}

	if got := env.service.LoadedModels(); len(got) != len(classifier.ModelNames()) {
		t.Errorf("Expected every model loaded, got %v", got)
	}
}

func TestPredict_Deterministic(t *testing.T) {
	env := newTestEnv(t)
	data := testImage(t, color.RGBA{R: 10, G: 250, B: 90, A: 255})
	req := PredictRequest{Model: "ResNet50", Image: data}

	first, err := env.service.Predict(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.service.Predict(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Output != second.Output || first.Confidence != second.Confidence {
		t.Errorf("Expected identical predictions, got %+v and %+v", first, second)
	}
	if calls := env.loader.Calls(classifier.ResNet50); calls != 1 {
		t.Errorf("Expected model to load once, loaded %d times", calls)
	}
}

func TestPredict_InvalidModel(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		model      string
		suggestion string
	}{
		{"FooNet", ""},
		{"resnet50", "ResNet50"},
		{"", ""},
	}

	for _, tt := range tests {
		_, err := env.service.Predict(context.Background(), PredictRequest{Model: tt.model, Image: []byte("x")})
		if err == nil {
			t.Fatalf("Expected error for model %q", tt.model)
		}
		appErr, ok := apperrors.As(err)
		if !ok || appErr.Type != apperrors.ErrorTypeInvalidInput {
			t.Fatalf("Expected invalid input error, got %v", err)
		}
		if appErr.Message != "Invalid model: "+tt.model {
			t.Errorf("Unexpected message %q", appErr.Message)
		}
		if tt.suggestion == "" && appErr.Details != "" {
			t.Errorf("Did not expect a suggestion for %q, got %q", tt.model, appErr.Details)
		}
		if tt.suggestion != "" && !strings.Contains(appErr.Details, tt.suggestion) {
			t.Errorf("Expected suggestion %q, got %q", tt.suggestion, appErr.Details)
		}
	}

	if loaded := env.service.LoadedModels(); len(loaded) != 0 {
		t.Errorf("Invalid model names must not load anything, got %v", loaded)
	}
}

func TestPredict_UndecodableImageStillLoadsModel(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Predict(context.Background(), PredictRequest{Model: "InceptionV3", Image: []byte("not an image")})
	if err == nil {
		t.Fatal("Expected error for non-image payload")
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeInternal) {
		t.Errorf("Expected internal error, got %v", err)
	}
	if !errors.Is(err, classifier.ErrDecode) {
		t.Errorf("Expected decode error in chain, got %v", err)
	}

	loaded := env.service.LoadedModels()
	if len(loaded) != 1 || loaded[0] != "InceptionV3" {
		t.Errorf("Expected InceptionV3 loaded, got %v", loaded)
	}
}

func TestPredict_MaxImagePixels(t *testing.T) {
	env := newTestEnv(t, WithMaxImagePixels(32*24-1))

	_, err := env.service.Predict(context.Background(), PredictRequest{Model: "ResNet50", Image: testImage(t, color.White)})
	if !errors.Is(err, classifier.ErrDecode) {
		t.Fatalf("Expected decode error for a 32x24 image, got %v", err)
	}
	if got := apperrors.GetStatusCode(err); got != 500 {
		t.Errorf("Expected status 500, got %d", got)
	}

	_, err = env.service.Predict(context.Background(), PredictRequest{Model: "ResNet50", Image: classifiertest.HugePNG(t, 30000, 30000)})
	if err == nil || !strings.Contains(err.Error(), "pixel limit") {
		t.Errorf("Expected pixel limit error, got %v", err)
	}
}

func TestPredict_LoadFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	env.loader.Fail(errors.New("onnxruntime: protobuf parsing failed"))

	_, err := env.service.Predict(context.Background(), PredictRequest{Model: "EfficientNetB0", Image: testImage(t, color.White)})
	if err == nil {
		t.Fatal("Expected error when the model cannot load")
	}
	if got := apperrors.GetStatusCode(err); got != 500 {
		t.Errorf("Expected status 500, got %d", got)
	}
	if msg := apperrors.PublicMessage(err); !strings.Contains(msg, "protobuf parsing failed") {
		t.Errorf("Expected underlying message to pass through, got %q", msg)
	}

	env.loader.Fail(nil)
	if _, err := env.service.Predict(context.Background(), PredictRequest{Model: "EfficientNetB0", Image: testImage(t, color.White)}); err != nil {
		t.Errorf("Expected retry after failure to succeed, got %v", err)
	}
}

func TestHistoryAndStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := testImage(t, color.Black)

	for _, model := range []string{"MobileNetV2", "ResNet50"} {
		if _, err := env.service.Predict(ctx, PredictRequest{Model: model, Image: data}); err != nil {
			t.Fatal(err)
		}
	}
	env.service.Predict(ctx, PredictRequest{Model: "MobileNetV2", Image: []byte("garbage")})

	entries, err := env.service.History(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(entries))
	}
	if entries[0].Model != "ResNet50" || entries[1].Model != "MobileNetV2" {
		t.Errorf("Expected newest first, got %s then %s", entries[0].Model, entries[1].Model)
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Error("Expected unique entry IDs")
	}

	env.publisher.Flush()
	stats := env.service.Stats()
	if stats.TotalPredictions != 3 || stats.SuccessfulPredictions != 2 || stats.FailedPredictions != 1 {
		t.Errorf("Unexpected counters %+v", stats)
	}
	if stats.Models["MobileNetV2"].Failures != 1 {
		t.Errorf("Expected one MobileNetV2 failure, got %+v", stats.Models["MobileNetV2"])
	}
}
