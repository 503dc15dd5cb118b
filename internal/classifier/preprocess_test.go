package classifier

import (
	"errors"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"
)

var colorGray = color.Gray{Y: 128}

func assertPixels(t *testing.T, got []float32, want [3]float32) {
	t.Helper()
	for i := 0; i < len(got); i += 3 {
		for c := 0; c < 3; c++ {
			if math.Abs(float64(got[i+c]-want[c])) > 1e-4 {
				t.Fatalf("value %d channel %d: expected %f, got %f", i/3, c, want[c], got[i+c])
			}
		}
	}
}

func TestPreprocess_ShapeAndNormalization(t *testing.T) {
	data := solidPNG(t, 10, 7, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	tests := []struct {
		model ModelName
		size  int
		want  [3]float32
	}{
		{ResNet50, 224, [3]float32{50 - 103.939, 100 - 116.779, 200 - 123.68}},
		{MobileNetV2, 224, [3]float32{200/127.5 - 1, 100/127.5 - 1, 50/127.5 - 1}},
		{InceptionV3, 299, [3]float32{200/127.5 - 1, 100/127.5 - 1, 50/127.5 - 1}},
		{EfficientNetB0, 224, [3]float32{200, 100, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.model.String(), func(t *testing.T) {
			cfg, err := Config(tt.model)
			if err != nil {
				t.Fatal(err)
			}
			input, err := Preprocess(data, cfg, 0)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if len(input) != tt.size*tt.size*3 {
				t.Fatalf("Expected %d values, got %d", tt.size*tt.size*3, len(input))
			}
			assertPixels(t, input, tt.want)
		})
	}
}

func TestPreprocess_NotAnImage(t *testing.T) {
	cfg, _ := Config(MobileNetV2)
	_, err := Preprocess([]byte("definitely not an image"), cfg, 0)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Expected ErrDecode, got %v", err)
	}
	if !strings.Contains(err.Error(), "detected text/plain") {
		t.Errorf("Expected sniffed content type in error, got %q", err.Error())
	}
}

func TestPreprocess_RejectsOversizedImage(t *testing.T) {
	cfg, _ := Config(MobileNetV2)

	// 12000x12000 is over the default limit but only a few dozen bytes here.
	_, err := Preprocess(hugePNG(t, 12000, 12000), cfg, 0)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Expected ErrDecode, got %v", err)
	}
	if !strings.Contains(err.Error(), "pixel limit") {
		t.Errorf("Expected pixel limit in error, got %q", err.Error())
	}
}

func TestPreprocess_CustomPixelLimit(t *testing.T) {
	cfg, _ := Config(EfficientNetB0)
	data := solidPNG(t, 10, 7, colorGray)

	if _, err := Preprocess(data, cfg, 69); !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode for 70 pixels over a limit of 69, got %v", err)
	}
	if _, err := Preprocess(data, cfg, 70); err != nil {
		t.Errorf("Expected 70 pixels to fit a limit of 70, got %v", err)
	}
}

func TestPreprocessImage_GrayscaleExpandsToRGB(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 5, 5))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	cfg, _ := Config(EfficientNetB0)

	assertPixels(t, PreprocessImage(img, cfg), [3]float32{128, 128, 128})
}

func TestPreprocessImage_AlphaIsDropped(t *testing.T) {
	img := image.NewNRGBA(image.Rect(3, 3, 9, 9))
	for y := 3; y < 9; y++ {
		for x := 3; x < 9; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 0})
		}
	}
	cfg, _ := Config(EfficientNetB0)

	assertPixels(t, PreprocessImage(img, cfg), [3]float32{255, 0, 0})
}

func TestPreprocessImage_StretchesWithoutPreservingAspect(t *testing.T) {
	// Left half black, right half white on a wide image: after stretching to
	// a square the boundary must stay in the middle column.
	img := image.NewRGBA(image.Rect(0, 0, 400, 10))
	for y := 0; y < 10; y++ {
		for x := 200; x < 400; x++ {
			img.Set(x, y, color.White)
		}
	}
	cfg, _ := Config(EfficientNetB0)
	input := PreprocessImage(img, cfg)

	row := 112 * 224 * 3
	if v := input[row+10*3]; v > 1 {
		t.Errorf("Expected black on the left, got %f", v)
	}
	if v := input[row+213*3]; v < 254 {
		t.Errorf("Expected white on the right, got %f", v)
	}
}
