package storyboard

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/richinsley/autoboard/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPanels(n int) []Panel {
	panels := make([]Panel, n)
	for i := range panels {
		img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
		for y := 0; y < 16; y++ {
			for x := 0; x < 16; x++ {
				img.Set(x, y, color.NRGBA{R: uint8(i * 40), G: 200, B: 10, A: 255})
			}
		}
		seed := int64(42)
		panels[i] = Panel{Index: i, Prompt: "rooftops", Seed: &seed, Image: img}
	}
	return panels
}

func TestPanelName(t *testing.T) {
	assert.Equal(t, "panel_001.png", PanelName(0, FormatPNG))
	assert.Equal(t, "panel_012.jpg", PanelName(11, FormatJPEG))
}

func TestExportToFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "board")
	e := &Exporter{Uploader: &FileUploader{Dir: dir}}

	names, err := e.Export(context.Background(), testPanels(3), FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, []string{"panel_001.png", "panel_002.png", "panel_003.png"}, names)

	for n, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		require.NoError(t, err)
		img, err := png.Decode(f)
		f.Close()
		require.NoError(t, err)
		r, _, _, _ := img.At(3, 3).RGBA()
		assert.Equal(t, uint32(n*40), r>>8)
	}
}

func TestExportJPEG(t *testing.T) {
	dir := t.TempDir()
	e := &Exporter{Uploader: &FileUploader{Dir: dir}, Quality: 90}

	names, err := e.Export(context.Background(), testPanels(2), FormatJPEG)
	require.NoError(t, err)
	assert.Equal(t, []string{"panel_001.jpg", "panel_002.jpg"}, names)

	data, err := os.ReadFile(filepath.Join(dir, names[1]))
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	inputs  []*s3.PutObjectInput
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[*in.Key] = data
	f.inputs = append(f.inputs, in)
	return &s3.PutObjectOutput{}, nil
}

func TestExportToS3(t *testing.T) {
	fs3 := &fakeS3{}
	e := &Exporter{Uploader: &S3Uploader{Client: fs3, Bucket: "boards", Prefix: "scene-1"}}

	_, err := e.Export(context.Background(), testPanels(2), FormatPNG)
	require.NoError(t, err)

	require.Len(t, fs3.objects, 2)
	assert.Contains(t, fs3.objects, "scene-1/panel_001.png")
	assert.Contains(t, fs3.objects, "scene-1/panel_002.png")
	for _, in := range fs3.inputs {
		assert.Equal(t, "boards", *in.Bucket)
		assert.Equal(t, "image/png", *in.ContentType)
		assert.Equal(t, "42", in.Metadata["seed"])
		assert.Equal(t, "rooftops", in.Metadata["prompt"])
	}
	_, err = png.Decode(bytes.NewReader(fs3.objects["scene-1/panel_002.png"]))
	assert.NoError(t, err)
}

func TestExportUploadFailure(t *testing.T) {
	e := &Exporter{Uploader: &S3Uploader{Client: &fakeS3{err: errors.New("access denied")}, Bucket: "boards"}}

	names, err := e.Export(context.Background(), testPanels(2), FormatPNG)
	assert.ErrorContains(t, err, "access denied")
	assert.Nil(t, names)
}

func TestExportRejectsBadInput(t *testing.T) {
	e := &Exporter{Uploader: &FileUploader{Dir: t.TempDir()}}

	_, err := e.Export(context.Background(), testPanels(1), Format("pdf"))
	assert.Equal(t, client.ErrorKindValidation, client.KindOf(err))

	panels := testPanels(2)
	panels[1].Image = nil
	_, err = e.Export(context.Background(), panels, FormatPNG)
	assert.Equal(t, client.ErrorKindValidation, client.KindOf(err))
}
