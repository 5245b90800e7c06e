package client

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// decodeBase64 accepts plain base64 as well as a data URL
// ("data:image/png;base64,....").
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// some servers strip the padding
		if raw, rerr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rerr == nil {
			return raw, nil
		}
		return nil, newError(ErrorKindProtocol, err, "image is not valid base64")
	}
	return data, nil
}

// decodeImage decodes PNG or JPEG bytes into 8 bit RGBA pixels with
// straight alpha. PNG text chunks are returned alongside.
func decodeImage(data []byte) (*image.NRGBA, map[string]string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, newError(ErrorKindProtocol, err, "decoding image")
	}

	var metadata map[string]string
	if text, err := ReadPanelText(bytes.NewReader(data)); err == nil {
		metadata = text.Map()
	}
	return toNRGBA(img), metadata, nil
}

// toNRGBA returns img as straight alpha pixels anchored at the origin. The
// PNG decoder already yields *image.NRGBA for images with an alpha channel,
// which is passed through untouched so no pixel is premultiplied.
func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	return nrgba
}

// DecodeBase64Image decodes a base64 (or data URL) encoded PNG or JPEG.
func DecodeBase64Image(s string) (*image.NRGBA, error) {
	data, err := decodeBase64(s)
	if err != nil {
		return nil, err
	}
	img, _, err := decodeImage(data)
	return img, err
}
