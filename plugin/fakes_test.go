package plugin

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeLayer struct {
	name       string
	kind       LayerKind
	data       []byte
	x, y, w, h int
}

func (l *fakeLayer) SetPixelData(data []byte, x, y, w, h int) error {
	l.data, l.x, l.y, l.w, l.h = data, x, y, w, h
	return nil
}

func (l *fakeLayer) Save(path string, quality int) error {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

type fakeDocument struct {
	layers    []*fakeLayer
	active    *fakeLayer
	refreshed int
}

func (d *fakeDocument) CreateLayer(name string, kind LayerKind) (Layer, error) {
	l := &fakeLayer{name: name, kind: kind}
	d.layers = append(d.layers, l)
	return l, nil
}

func (d *fakeDocument) ActiveLayer() Layer {
	if d.active == nil {
		return nil
	}
	return d.active
}

func (d *fakeDocument) Refresh() { d.refreshed++ }

type fakeHost struct {
	doc *fakeDocument
}

func (h *fakeHost) ActiveDocument() Document {
	if h.doc == nil {
		return nil
	}
	return h.doc
}

type fakeCanvas struct {
	doc *fakeDocument
}

func (c *fakeCanvas) Document() Document { return c.doc }

type fakeAction struct {
	id, text, menu string
	fn             func()
}

type fakeWindow struct {
	actions []fakeAction
}

func (w *fakeWindow) CreateAction(id, text, menu string, fn func()) {
	w.actions = append(w.actions, fakeAction{id, text, menu, fn})
}

// fakeView records what the Docker asked of the panel.
type fakeView struct {
	mu       sync.Mutex
	events   []string
	samplers []string
}

func (v *fakeView) record(format string, args ...interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, fmt.Sprintf(format, args...))
}

func (v *fakeView) Events() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.events...)
}

func (v *fakeView) Show() { v.record("show") }
func (v *fakeView) SetStatus(text string) { v.record("status %s", text) }
func (v *fakeView) SetGenerateEnabled(on bool) { v.record("generate %v", on) }
func (v *fakeView) SetInsertEnabled(on bool) { v.record("insert %v", on) }
func (v *fakeView) ShowProgress(percent int) { v.record("progress %d", percent) }
func (v *fakeView) HideProgress() { v.record("hide progress") }
func (v *fakeView) ClearPreview() { v.record("clear preview") }
func (v *fakeView) ShowError(message string) { v.record("error %s", message) }
func (v *fakeView) ShowPreview(img *image.NRGBA) { v.record("preview %dx%d", img.Bounds().Dx(), img.Bounds().Dy()) }
func (v *fakeView) SetSamplers(names []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.samplers = names
}

func redPNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// newA1111 serves the synchronous protocol. A non-zero status makes
// txt2img fail with it.
func newA1111(t *testing.T, status int) *httptest.Server {
	return serveA1111(t, status, nil)
}

// newGatedA1111 holds every txt2img call until release is called. started
// is closed once the first call arrived.
func newGatedA1111(t *testing.T) (srv *httptest.Server, started <-chan struct{}, release func()) {
	arrived := make(chan struct{})
	gate := make(chan struct{})
	var once, releaseOnce sync.Once
	srv = serveA1111(t, 0, func() {
		once.Do(func() { close(arrived) })
		<-gate
	})
	release = func() { releaseOnce.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return srv, arrived, release
}

func serveA1111(t *testing.T, status int, hold func()) *httptest.Server {
	t.Helper()
	b64 := redPNG(t, 8, 8)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sdapi/v1/txt2img", func(w http.ResponseWriter, r *http.Request) {
		if hold != nil {
			hold()
		}
		if status != 0 {
			http.Error(w, "model crashed", status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"images": []string{b64}})
	})
	mux.HandleFunc("GET /sdapi/v1/sd-models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"title": "v1-5"}, {"title": "sdxl"}]`))
	})
	mux.HandleFunc("GET /sdapi/v1/samplers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name": "Euler a"}, {"name": "DPM++ 2M"}, {"name": "UniPC"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newExtension sets up an extension reading settings from a temp file.
func newExtension(t *testing.T, host Host, settings map[string]interface{}) *Extension {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autoboarding.json")
	data, err := json.Marshal(settings)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	e := NewExtension(t.Context(), host, path)
	require.NoError(t, e.Setup())
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}
