package classifier

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/anime-shed/image-classifier-go/internal/storage"
)

var testClasses = []ClassEntry{
	{ID: "n01440764", Name: "tench"},
	{ID: "n02099712", Name: "Labrador_retriever"},
	{ID: "n02123045", Name: "tabby"},
	{ID: "n03000134", Name: "chainlink_fence"},
}

// writeModelDir creates a directory holding a vocabulary and a dummy weight
// file for every model.
func writeModelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	raw := make(map[string][]string, len(testClasses))
	for i, c := range testClasses {
		raw[strconv.Itoa(i)] = []string{c.ID, c.Name}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, VocabularyFile), data, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, n := range AllModels() {
		if err := os.WriteFile(filepath.Join(dir, n.String()+".onnx"), []byte("weights"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// fakeSession scores class (sum of inputs mod classes) highest, so output is
// a deterministic function of the input.
type fakeSession struct {
	classes int
	closed  atomic.Bool
}

func (s *fakeSession) Run(input []float32) ([]float32, error) {
	if s.closed.Load() {
		return nil, errors.New("session closed")
	}
	var sum float64
	for _, v := range input {
		sum += float64(v)
	}
	winner := int(int64(math.Abs(sum)) % int64(s.classes))
	out := make([]float32, s.classes)
	for i := range out {
		out[i] = 0.1 / float32(s.classes-1)
	}
	out[winner] = 0.9
	return out, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeLoader struct {
	mu       sync.Mutex
	calls    map[ModelName]int
	sessions []*fakeSession
	fail     atomic.Bool
	gate     chan struct{}
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{calls: make(map[ModelName]int)}
}

func (l *fakeLoader) Load(ctx context.Context, cfg ModelConfig, path string) (Session, error) {
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[cfg.Name]++
	if l.fail.Load() {
		return nil, errors.New("weights corrupted")
	}
	s := &fakeSession{classes: len(testClasses)}
	l.sessions = append(l.sessions, s)
	return s, nil
}

func (l *fakeLoader) Calls(name ModelName) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[name]
}

func newTestRegistry(t *testing.T) (*Registry, *fakeLoader) {
	t.Helper()
	loader := newFakeLoader()
	return NewRegistry(storage.NewLocalWeightSource(writeModelDir(t)), loader.Load, nil), loader
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// hugePNG encodes a 1x1 grayscale PNG and rewrites its IHDR to claim w x h,
// so only the header describes a large image.
func hugePNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc at 29
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}
