package storyboard

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"strconv"

	"github.com/richinsley/autoboard/client"
	"github.com/richinsley/autoboard/internal/log"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

func (f Format) extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return "png"
}

func (f Format) contentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// PanelName is the file name a panel is exported under.
func PanelName(index int, format Format) string {
	return fmt.Sprintf("panel_%03d.%s", index+1, format.extension())
}

type Exporter struct {
	Uploader Uploader
	// Quality applies to JPEG output; zero means jpeg.DefaultQuality.
	Quality int
}

func NewExporter(i *do.Injector) (*Exporter, error) {
	return &Exporter{Uploader: do.MustInvoke[Uploader](i)}, nil
}

// Export encodes panels concurrently and hands each one to the uploader.
// It returns the exported names in panel order.
func (e *Exporter) Export(ctx context.Context, panels []Panel, format Format) ([]string, error) {
	if format != FormatPNG && format != FormatJPEG {
		return nil, &client.Error{Kind: client.ErrorKindValidation, Message: fmt.Sprintf("unsupported export format %q", format)}
	}
	logger := log.FromContextOrDiscard(ctx).WithGroup("export")
	logger.Info("exporting storyboard", "panels", len(panels), "format", format)

	for _, panel := range panels {
		if panel.Image == nil {
			return nil, &client.Error{Kind: client.ErrorKindValidation, Message: fmt.Sprintf("panel %d has no image", panel.Index+1)}
		}
	}

	names := make([]string, len(panels))
	group, ctx := errgroup.WithContext(ctx)
	for n, panel := range panels {
		names[n] = PanelName(panel.Index, format)
		group.Go(func() error {
			data, err := e.encode(panel, format)
			if err != nil {
				return fmt.Errorf("encoding panel %d: %w", panel.Index+1, err)
			}
			return e.Uploader.Upload(ctx, UploadParams{
				Name:        names[n],
				Data:        data,
				ContentType: format.contentType(),
				Metadata:    panelMetadata(panel),
			})
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return names, nil
}

func (e *Exporter) encode(panel Panel, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		quality := e.Quality
		if quality == 0 {
			quality = jpeg.DefaultQuality
		}
		err = jpeg.Encode(&buf, panel.Image, &jpeg.Options{Quality: quality})
	default:
		err = png.Encode(&buf, panel.Image)
	}
	return buf.Bytes(), err
}

func panelMetadata(panel Panel) map[string]string {
	meta := map[string]string{
		"panel":  strconv.Itoa(panel.Index + 1),
		"prompt": panel.Prompt,
	}
	if panel.Seed != nil {
		meta["seed"] = strconv.FormatInt(*panel.Seed, 10)
	}
	return meta
}
