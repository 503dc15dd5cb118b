// Package classifiertest provides an in-process stand-in for the ONNX
// runtime so packages above the classifier can be tested without weights.
package classifiertest

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/anime-shed/image-classifier-go/internal/classifier"
)

// Classes is the vocabulary written by WriteModelDir.
var Classes = []classifier.ClassEntry{
	{ID: "n02085620", Name: "Chihuahua"},
	{ID: "n02099601", Name: "golden_retriever"},
	{ID: "n02123045", Name: "tabby"},
	{ID: "n04285008", Name: "sports_car"},
	{ID: "n07753592", Name: "banana"},
}

// WriteModelDir creates a directory with a vocabulary and a placeholder
// weight file for every supported model.
func WriteModelDir(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()

	raw := make(map[string][]string, len(Classes))
	for i, c := range Classes {
		raw[strconv.Itoa(i)] = []string{c.ID, c.Name}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, classifier.VocabularyFile), data, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, n := range classifier.AllModels() {
		cfg, err := classifier.Config(n)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, cfg.WeightsFile), []byte("onnx"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// Session returns raw logits whose winner depends only on the input, so
// identical inputs always yield identical predictions.
type Session struct {
	classes int
	closed  atomic.Bool
}

func (s *Session) Run(input []float32) ([]float32, error) {
	if s.closed.Load() {
		return nil, errors.New("session closed")
	}
	var sum float64
	for _, v := range input {
		sum += float64(v)
	}
	winner := int(int64(math.Abs(sum)) % int64(s.classes))

	out := make([]float32, s.classes)
	out[winner] = 4
	return out, nil
}

func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

// Loader counts loads per model and can be switched into a failing mode.
type Loader struct {
	mu    sync.Mutex
	calls map[classifier.ModelName]int
	err   atomic.Pointer[error]
}

func NewLoader() *Loader {
	return &Loader{calls: make(map[classifier.ModelName]int)}
}

// Load satisfies classifier.SessionLoader.
func (l *Loader) Load(_ context.Context, cfg classifier.ModelConfig, _ string) (classifier.Session, error) {
	l.mu.Lock()
	l.calls[cfg.Name]++
	l.mu.Unlock()

	if errp := l.err.Load(); errp != nil {
		return nil, *errp
	}
	return &Session{classes: len(Classes)}, nil
}

// Fail makes subsequent loads return err. Pass nil to recover.
func (l *Loader) Fail(err error) {
	if err == nil {
		l.err.Store(nil)
		return
	}
	l.err.Store(&err)
}

func (l *Loader) Calls(name classifier.ModelName) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[name]
}

// HugePNG returns a tiny PNG whose header declares a w x h grayscale image.
// Only the header is valid; the pixel data still describes 1x1.
func HugePNG(t testing.TB, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}
