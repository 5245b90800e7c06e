package client

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// patternImage fills every pixel with a different color. Every third
// pixel is partly transparent.
func patternImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if (x+y*w)%3 == 1 {
				a = uint8(1 + (x*17+y*29)%254)
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x*37 + 200), G: uint8(y * 53), B: uint8(x*y + 11), A: a})
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

func encodeBase64PNG(t *testing.T, img image.Image) string {
	return base64.StdEncoding.EncodeToString(encodePNG(t, img))
}

// withTextChunk inserts a tEXt chunk right after the IHDR chunk.
func withTextChunk(t *testing.T, data []byte, key, value string) []byte {
	payload := append([]byte(key), 0)
	return withChunk(t, data, "tEXt", append(payload, value...))
}

// withChunk inserts a chunk of the given type right after the IHDR chunk.
func withChunk(t *testing.T, data []byte, kind string, payload []byte) []byte {
	t.Helper()
	// signature (8) + IHDR length/type/data/crc (4+4+13+4)
	const ihdrEnd = 8 + 25
	require.Greater(t, len(data), ihdrEnd)

	var chunk bytes.Buffer
	_ = binary.Write(&chunk, binary.BigEndian, uint32(len(payload)))
	chunk.WriteString(kind)
	chunk.Write(payload)
	crc := crc32.NewIEEE()
	crc.Write([]byte(kind))
	crc.Write(payload)
	_ = binary.Write(&chunk, binary.BigEndian, crc.Sum32())

	out := append([]byte{}, data[:ihdrEnd]...)
	out = append(out, chunk.Bytes()...)
	return append(out, data[ihdrEnd:]...)
}

func validRequest() GenerationRequest {
	return GenerationRequest{
		Prompt:   "a red circle",
		Width:    512,
		Height:   512,
		Steps:    20,
		CFGScale: 7.0,
		Sampler:  "Euler a",
	}
}
