package classifier

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidModel is returned for names outside the supported set.
	ErrInvalidModel = errors.New("invalid model")
	// ErrDecode is returned when the uploaded bytes are not a readable image.
	ErrDecode = errors.New("cannot decode image")
)

// ModelName identifies one of the supported pretrained ImageNet classifiers.
type ModelName uint8

const (
	ResNet50 ModelName = iota
	MobileNetV2
	InceptionV3
	EfficientNetB0

	numModels
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = MobileNetV2

var modelNames = [numModels]string{
	ResNet50:       "ResNet50",
	MobileNetV2:    "MobileNetV2",
	InceptionV3:    "InceptionV3",
	EfficientNetB0: "EfficientNetB0",
}

func (n ModelName) String() string {
	if !n.Valid() {
		return fmt.Sprintf("ModelName(%d)", uint8(n))
	}
	return modelNames[n]
}

func (n ModelName) Valid() bool {
	return n < numModels
}

// AllModels lists every supported model in declaration order.
func AllModels() []ModelName {
	out := make([]ModelName, 0, numModels)
	for n := ModelName(0); n < numModels; n++ {
		out = append(out, n)
	}
	return out
}

// ModelNames returns the string form of AllModels.
func ModelNames() []string {
	return append([]string(nil), modelNames[:]...)
}

// ParseModelName matches s exactly (case-sensitive) against the supported names.
func ParseModelName(s string) (ModelName, error) {
	for n, name := range modelNames {
		if name == s {
			return ModelName(n), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidModel, s)
}

// NormalizeFunc maps one RGB pixel (0-255) into the three network input
// values for that pixel, written to dst in the channel order the network
// expects.
type NormalizeFunc func(r, g, b uint8, dst []float32)

// ModelConfig describes how to feed a given network.
type ModelConfig struct {
	Name        ModelName
	InputWidth  int
	InputHeight int
	Normalize   NormalizeFunc
	WeightsFile string
}

// Config returns the static configuration of a model.
func Config(n ModelName) (ModelConfig, error) {
	cfg := ModelConfig{
		Name:        n,
		InputWidth:  224,
		InputHeight: 224,
	}

	switch n {
	case ResNet50:
		cfg.Normalize = normalizeCaffe
	case MobileNetV2:
		cfg.Normalize = normalizeTF
	case InceptionV3:
		cfg.InputWidth, cfg.InputHeight = 299, 299
		cfg.Normalize = normalizeTF
	case EfficientNetB0:
		cfg.Normalize = normalizeIdentity
	default:
		return ModelConfig{}, fmt.Errorf("%w: %s", ErrInvalidModel, n)
	}

	cfg.WeightsFile = n.String() + ".onnx"
	return cfg, nil
}

// ImageNet channel means in BGR order, as used by the caffe-trained ResNet weights.
var caffeMeanBGR = [3]float32{103.939, 116.779, 123.68}

// normalizeCaffe swaps to BGR and subtracts the per-channel ImageNet mean.
func normalizeCaffe(r, g, b uint8, dst []float32) {
	dst[0] = float32(b) - caffeMeanBGR[0]
	dst[1] = float32(g) - caffeMeanBGR[1]
	dst[2] = float32(r) - caffeMeanBGR[2]
}

// normalizeTF scales each channel to [-1, 1].
func normalizeTF(r, g, b uint8, dst []float32) {
	dst[0] = float32(r)/127.5 - 1
	dst[1] = float32(g)/127.5 - 1
	dst[2] = float32(b)/127.5 - 1
}

// normalizeIdentity passes raw 0-255 values; EfficientNet rescales internally.
func normalizeIdentity(r, g, b uint8, dst []float32) {
	dst[0] = float32(r)
	dst[1] = float32(g)
	dst[2] = float32(b)
}
