package plugin

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/richinsley/autoboard/client"
	"github.com/richinsley/autoboard/config"
	"github.com/richinsley/autoboard/internal/log"
	"github.com/richinsley/autoboard/storyboard"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const GeneratedLayerName = "AI Generated"

var (
	ErrNoDocument = errors.New("no document open")
	ErrNoLayer    = errors.New("no active layer selected")
	ErrNoPreview  = errors.New("no generated panel to insert")
)

// Sketch is an imported layer. Uploaded holds the name the backend stored
// it under, when the backend accepts uploads.
type Sketch struct {
	Path     string
	Uploaded string
}

// Docker is the controller behind the docked panel.
type Docker struct {
	cfg        *config.Config
	client     *client.Client
	host       Host
	storyboard *storyboard.Generator
	exporter   *storyboard.Exporter

	// active is held from the moment a generation or storyboard is accepted
	// until its trigger is handed back.
	active atomic.Bool

	mu       sync.Mutex
	view     View
	canvas   Canvas
	builder  client.Builder
	preview  *image.NRGBA
	history  []string
	sketches []Sketch
}

func NewDocker(i *do.Injector) (*Docker, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &Docker{
		cfg:        cfg,
		client:     do.MustInvoke[*client.Client](i),
		host:       do.MustInvoke[Host](i),
		storyboard: do.MustInvoke[*storyboard.Generator](i),
		exporter:   do.MustInvoke[*storyboard.Exporter](i),
		view:       nopView{},
		builder:    cfg.Builder(),
	}, nil
}

// Attach connects the panel widgets.
func (d *Docker) Attach(v View) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view = lo.Ternary[View](v == nil, nopView{}, v)
}

func (d *Docker) ui() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

func (d *Docker) CanvasChanged(c Canvas) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canvas = c
}

// CheckConnection probes the backend and refreshes the sampler list the
// panel offers.
func (d *Docker) CheckConnection(ctx context.Context) client.ConnectionStatus {
	view := d.ui()
	status := d.client.CheckConnection(ctx)
	if !status.Connected {
		view.SetStatus("Error: " + status.Error)
		view.SetGenerateEnabled(false)
		return status
	}

	view.SetStatus(fmt.Sprintf("Connected (%s)", status.APIType))
	if !d.active.Load() {
		view.SetGenerateEnabled(true)
	}

	samplers, err := d.client.Samplers(ctx)
	if err != nil || len(samplers) == 0 {
		log.FromContextOrDiscard(ctx).Warn("listing samplers", "error", err)
		return status
	}
	d.mu.Lock()
	d.builder.Samplers = samplers
	d.mu.Unlock()
	view.SetSamplers(samplers)
	return status
}

// Generate starts a generation for req. The trigger is disabled until the
// returned channel delivers the result. A request that does not pass
// validation is reported to the panel and returned as an error, as is a
// call made while another generation or storyboard is running. Neither
// touches the trigger.
func (d *Docker) Generate(ctx context.Context, req client.GenerationRequest) (<-chan *client.Result, error) {
	view := d.ui()

	d.mu.Lock()
	builder := d.builder
	d.mu.Unlock()

	job, err := builder.Build(req, d.client.Backend())
	if err != nil {
		view.ShowError(err.Error())
		return nil, err
	}
	if !d.acquire() {
		view.ShowError(client.ErrBusy.Message)
		return nil, client.ErrBusy
	}

	view.SetGenerateEnabled(false)
	view.SetInsertEnabled(false)
	handlers := &client.Handlers{
		OnStarted: func() {
			view.ShowProgress(0)
		},
		OnProgress: view.ShowProgress,
		OnComplete: func(img *image.NRGBA) {
			d.mu.Lock()
			d.preview = img
			d.mu.Unlock()
			view.ShowPreview(img)
			view.HideProgress()
			d.active.Store(false)
			view.SetGenerateEnabled(true)
			view.SetInsertEnabled(true)
		},
		OnFailed: func(message string) {
			view.HideProgress()
			d.active.Store(false)
			view.SetGenerateEnabled(true)
			view.SetStatus("Error: " + message)
		},
	}
	results, err := d.client.TryGenerateAsync(ctx, job, handlers)
	if err != nil {
		// the client is busy outside this panel
		d.active.Store(false)
		view.SetGenerateEnabled(true)
		view.ShowError(err.Error())
		return nil, err
	}
	d.remember(req.Prompt)
	return results, nil
}

// acquire claims the panel for one generation or storyboard.
func (d *Docker) acquire() bool {
	if d.client.Busy() {
		return false
	}
	return d.active.CompareAndSwap(false, true)
}

// Preview returns the last generated image, if any.
func (d *Docker) Preview() *image.NRGBA {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.preview
}

func (d *Docker) document() Document {
	d.mu.Lock()
	canvas := d.canvas
	d.mu.Unlock()
	if canvas != nil {
		if doc := canvas.Document(); doc != nil {
			return doc
		}
	}
	if d.host == nil {
		return nil
	}
	return d.host.ActiveDocument()
}

// InsertIntoDocument adds the preview to the current document as a new
// paint layer.
func (d *Docker) InsertIntoDocument() error {
	img := d.Preview()
	if img == nil {
		return ErrNoPreview
	}
	doc := d.document()
	if doc == nil {
		d.ui().ShowError(ErrNoDocument.Error())
		return ErrNoDocument
	}
	if err := insertLayer(doc, GeneratedLayerName, img); err != nil {
		return err
	}
	doc.Refresh()
	return nil
}

// InsertPanels adds every storyboard panel as its own layer.
func (d *Docker) InsertPanels(panels []storyboard.Panel) error {
	doc := d.document()
	if doc == nil {
		d.ui().ShowError(ErrNoDocument.Error())
		return ErrNoDocument
	}
	for _, p := range panels {
		if err := insertLayer(doc, fmt.Sprintf("%s %d", GeneratedLayerName, p.Index+1), p.Image); err != nil {
			return err
		}
	}
	doc.Refresh()
	return nil
}

func insertLayer(doc Document, name string, img *image.NRGBA) error {
	layer, err := doc.CreateLayer(name, PaintLayer)
	if err != nil {
		return fmt.Errorf("creating layer: %w", err)
	}
	b := img.Bounds()
	return layer.SetPixelData(BGRA(img), 0, 0, b.Dx(), b.Dy())
}

// Discard drops the preview.
func (d *Docker) Discard() {
	d.mu.Lock()
	d.preview = nil
	d.mu.Unlock()

	view := d.ui()
	view.ClearPreview()
	view.HideProgress()
	view.SetInsertEnabled(false)
}

// ImportActiveLayer saves the active layer to a temporary PNG and returns
// its path. ComfyUI backends also receive a copy in their input folder.
func (d *Docker) ImportActiveLayer(ctx context.Context) (string, error) {
	doc := d.document()
	if doc == nil {
		d.ui().ShowError(ErrNoDocument.Error())
		return "", ErrNoDocument
	}
	layer := doc.ActiveLayer()
	if layer == nil {
		d.ui().ShowError(ErrNoLayer.Error())
		return "", ErrNoLayer
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("autoboard_%s.png", uuid.NewString()))
	if err := layer.Save(path, 100); err != nil {
		return "", fmt.Errorf("saving layer: %w", err)
	}
	sketch := Sketch{Path: path}

	if d.client.Backend() == client.ComfyUI {
		name, err := d.client.UploadFileFromPath(ctx, path, true, client.InputImageType)
		if err != nil {
			return path, err
		}
		sketch.Uploaded = name
	}

	d.mu.Lock()
	d.sketches = append(d.sketches, sketch)
	d.mu.Unlock()
	return path, nil
}

func (d *Docker) Sketches() []Sketch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Sketch(nil), d.sketches...)
}

// ClearSketches forgets imported layers and removes their temporary files.
func (d *Docker) ClearSketches() {
	d.mu.Lock()
	sketches := d.sketches
	d.sketches = nil
	d.mu.Unlock()

	for _, s := range sketches {
		_ = os.Remove(s.Path)
	}
}

// remember puts prompt at the front of the history, dropping an older
// copy and anything past prompt_history_size.
func (d *Docker) remember(prompt string) {
	prompt = strings.TrimSpace(prompt)
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.PromptHistorySize == 0 {
		return
	}
	history := append([]string{prompt}, lo.Without(d.history, prompt)...)
	if len(history) > d.cfg.PromptHistorySize {
		history = history[:d.cfg.PromptHistorySize]
	}
	d.history = history
}

// PromptHistory returns past prompts, most recent first.
func (d *Docker) PromptHistory() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.history...)
}

// GenerateStoryboard runs plan, reporting panel progress on the panel's
// progress bar. It is refused with client.ErrBusy while a generation is
// running.
func (d *Docker) GenerateStoryboard(ctx context.Context, plan storyboard.Plan) ([]storyboard.Panel, error) {
	view := d.ui()
	if !d.acquire() {
		view.ShowError(client.ErrBusy.Message)
		return nil, client.ErrBusy
	}
	view.SetGenerateEnabled(false)
	view.ShowProgress(0)
	defer func() {
		view.HideProgress()
		d.active.Store(false)
		view.SetGenerateEnabled(true)
	}()

	panels, err := d.storyboard.Generate(ctx, plan, func(done, total int) {
		view.ShowProgress(done * 100 / total)
	})
	if err != nil {
		view.ShowError(err.Error())
	}
	return panels, err
}

// ExportStoryboard writes panels in the configured export format.
func (d *Docker) ExportStoryboard(ctx context.Context, panels []storyboard.Panel) ([]string, error) {
	names, err := d.exporter.Export(ctx, panels, storyboard.Format(d.cfg.ExportFormat))
	if err != nil {
		d.ui().ShowError(err.Error())
	}
	return names, err
}
