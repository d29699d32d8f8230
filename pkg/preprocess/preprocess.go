// Package preprocess turns encoded image bytes into the input tensors the
// classification models expect.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/illmade-knight/go-imagepipeline/pkg/inference"
)

// Input sizes of the two models.
const (
	ExpressionSize = 48
	CrestSize      = 224
)

// Preprocessor decodes, resizes and normalizes images to a fixed NHWC tensor shape
// with samples in [0,1]. Transparent pixels are flattened onto black.
type Preprocessor struct {
	width     int
	height    int
	grayscale bool
	filter    imaging.ResampleFilter
}

// NewGrayscale returns a single-channel preprocessor.
func NewGrayscale(width, height int) *Preprocessor {
	return &Preprocessor{width: width, height: height, grayscale: true, filter: imaging.Linear}
}

// NewRGB returns a three-channel preprocessor using bilinear interpolation.
func NewRGB(width, height int) *Preprocessor {
	return &Preprocessor{width: width, height: height, filter: imaging.Linear}
}

// Channels is 1 for grayscale and 3 for RGB.
func (p *Preprocessor) Channels() int {
	if p.grayscale {
		return 1
	}
	return 3
}

// Shape is the tensor shape produced, batch of one.
func (p *Preprocessor) Shape() []int64 {
	return []int64{1, int64(p.height), int64(p.width), int64(p.Channels())}
}

// Preprocess decodes data and returns the model input tensor.
func (p *Preprocessor) Preprocess(data []byte) (inference.Tensor, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return inference.Tensor{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return p.FromImage(img), nil
}

// FromImage resizes an already decoded image into the model input tensor.
func (p *Preprocessor) FromImage(img image.Image) inference.Tensor {
	resized := imaging.Resize(img, p.width, p.height, p.filter)
	flat := imaging.Overlay(imaging.New(p.width, p.height, color.Black), resized, image.Pt(0, 0), 1.0)
	if p.grayscale {
		flat = imaging.Grayscale(flat)
	}

	channels := p.Channels()
	tensor := inference.NewTensor(p.Shape()...)
	i := 0
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			c := flat.NRGBAAt(x, y)
			if channels == 1 {
				tensor.Data[i] = float32(c.R) / 255
				i++
				continue
			}
			tensor.Data[i] = float32(c.R) / 255
			tensor.Data[i+1] = float32(c.G) / 255
			tensor.Data[i+2] = float32(c.B) / 255
			i += 3
		}
	}
	return tensor
}
