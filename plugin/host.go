package plugin

import (
	"image"
)

// LayerKind names a host layer type.
type LayerKind string

const PaintLayer LayerKind = "paintlayer"

// Host is the painting application.
type Host interface {
	ActiveDocument() Document
}

type Document interface {
	// CreateLayer adds a new top level layer to the document.
	CreateLayer(name string, kind LayerKind) (Layer, error)
	ActiveLayer() Layer
	// Refresh redraws the document projection after pixel changes.
	Refresh()
}

type Layer interface {
	// SetPixelData replaces the w x h rectangle at x, y with 8 bit BGRA
	// pixels, row major and without padding.
	SetPixelData(data []byte, x, y, w, h int) error
	// Save writes the layer as an image file. quality is 0-100.
	Save(path string, quality int) error
}

type Canvas interface {
	Document() Document
}

type Window interface {
	CreateAction(id, text, menu string, fn func())
}

// BGRA converts img to the host's 8 bit BGRA layout with straight alpha.
func BGRA(img *image.NRGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			p := img.Pix[i : i+4 : i+4]
			out = append(out, p[2], p[1], p[0], p[3])
		}
	}
	return out
}
