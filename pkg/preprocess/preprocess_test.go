package preprocess_test

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/illmade-knight/go-imagepipeline/pkg/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestGrayscale_ShapeAndRange(t *testing.T) {
	// Arrange
	p := preprocess.NewGrayscale(preprocess.ExpressionSize, preprocess.ExpressionSize)
	data := encodePNG(t, solidImage(100, 60, color.NRGBA{R: 255, G: 255, B: 255, A: 255}))

	// Act
	tensor, err := p.Preprocess(data)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 48, 48, 1}, tensor.Shape)
	require.Len(t, tensor.Data, 48*48)
	for _, v := range tensor.Data {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
}

func TestRGB_ChannelOrderAndNormalization(t *testing.T) {
	p := preprocess.NewRGB(preprocess.CrestSize, preprocess.CrestSize)
	data := encodePNG(t, solidImage(32, 32, color.NRGBA{R: 255, G: 0, B: 51, A: 255}))

	tensor, err := p.Preprocess(data)

	require.NoError(t, err)
	assert.Equal(t, []int64{1, 224, 224, 3}, tensor.Shape)
	require.Len(t, tensor.Data, 224*224*3)
	assert.InDelta(t, 1.0, tensor.Data[0], 1e-6)
	assert.InDelta(t, 0.0, tensor.Data[1], 1e-6)
	assert.InDelta(t, 0.2, tensor.Data[2], 1e-6)
	for _, v := range tensor.Data {
		assert.True(t, v >= 0 && v <= 1)
	}
}

func TestPreprocess_TransparentPixelsBecomeBlack(t *testing.T) {
	p := preprocess.NewRGB(4, 4)
	data := encodePNG(t, solidImage(4, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 0}))

	tensor, err := p.Preprocess(data)

	require.NoError(t, err)
	for _, v := range tensor.Data {
		assert.InDelta(t, 0.0, v, 1e-6)
	}
}

func TestPreprocess_DecodesJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solidImage(10, 10, color.Gray{Y: 128}), nil))

	tensor, err := preprocess.NewGrayscale(48, 48).Preprocess(buf.Bytes())

	require.NoError(t, err)
	assert.InDelta(t, 128.0/255, tensor.Data[0], 0.02)
}

func TestPreprocess_RejectsGarbage(t *testing.T) {
	_, err := preprocess.NewGrayscale(48, 48).Preprocess([]byte("definitely not an image"))
	assert.Error(t, err)
}
