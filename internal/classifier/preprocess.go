package classifier

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxImagePixels is the largest image area Preprocess accepts when no
// other limit is given. It matches the decompression bomb threshold of PIL.
const DefaultMaxImagePixels int64 = 178956970

// Preprocess decodes raw image bytes and turns them into the NHWC float32
// input of the given model: shape [1, InputHeight, InputWidth, 3].
//
// The header is read first and images whose width*height exceeds maxPixels
// are rejected before any pixel buffer is allocated. A maxPixels of zero or
// less means DefaultMaxImagePixels.
//
// The image is stretched to the input size; aspect ratio is not preserved.
func Preprocess(data []byte, cfg ModelConfig, maxPixels int64) ([]float32, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxImagePixels
	}

	hdr, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(data, err)
	}
	if hdr.Width <= 0 || hdr.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, hdr.Width, hdr.Height)
	}
	if int64(hdr.Width)*int64(hdr.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d image exceeds the %d pixel limit", ErrDecode, hdr.Width, hdr.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(data, err)
	}
	return PreprocessImage(img, cfg), nil
}

// decodeError names the sniffed content type so callers can tell a wrong
// file from a corrupt image.
func decodeError(data []byte, err error) error {
	return fmt.Errorf("%w (detected %s): %v", ErrDecode, mimetype.Detect(data).String(), err)
}

// PreprocessImage is Preprocess for an already decoded image.
func PreprocessImage(img image.Image, cfg ModelConfig) []float32 {
	rgb := toRGB(img)
	resized := resize.Resize(uint(cfg.InputWidth), uint(cfg.InputHeight), rgb, resize.Bicubic)

	w, h := cfg.InputWidth, cfg.InputHeight
	out := make([]float32, h*w*3)
	bounds := resized.Bounds()

	if rgba, ok := resized.(*image.RGBA); ok {
		for y := 0; y < h; y++ {
			row := rgba.Pix[rgba.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
			for x := 0; x < w; x++ {
				p := row[x*4 : x*4+3]
				i := (y*w + x) * 3
				cfg.Normalize(p[0], p[1], p[2], out[i:i+3])
			}
		}
		return out
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.RGBA)
			i := (y*w + x) * 3
			cfg.Normalize(c.R, c.G, c.B, out[i:i+3])
		}
	}
	return out
}

// toRGB copies img into an opaque RGBA image. Alpha is discarded rather than
// composited, so a transparent pixel keeps its stored color.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			off := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
			dst.Pix[off+0] = c.R
			dst.Pix[off+1] = c.G
			dst.Pix[off+2] = c.B
			dst.Pix[off+3] = 0xff
		}
	}
	return dst
}
