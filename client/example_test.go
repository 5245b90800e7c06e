package client_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"

	"github.com/richinsley/autoboard/client"
)

// fakeA1111 answers txt2img with a w x h transparent PNG, or with status
// when it is not 200.
func fakeA1111(w, h, status int) *httptest.Server {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h)))
	b64 := base64.StdEncoding.EncodeToString(buf.Bytes())

	return httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(rw, "CUDA out of memory", status)
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]interface{}{"images": []string{b64}})
	}))
}

func request() client.GenerationRequest {
	return client.GenerationRequest{
		Prompt:   "a lighthouse in a storm",
		Width:    512,
		Height:   512,
		Steps:    20,
		CFGScale: 7,
		Sampler:  "Euler a",
	}
}

// Minimal: block on the result.
func ExampleClient_Generate() {
	srv := fakeA1111(64, 32, http.StatusOK)
	defer srv.Close()

	job, err := client.Build(request(), client.Automatic1111)
	if err != nil {
		fmt.Println(err)
		return
	}

	c := client.NewClient(srv.URL)
	res := c.Generate(context.Background(), job)
	fmt.Println(res.Success, res.Image.Bounds().Dx(), res.Image.Bounds().Dy())
	// Output: true 64 32
}

// Only handle what you care about; the result arrives on the channel
// after the terminal handler ran.
func ExampleClient_GenerateAsync() {
	srv := fakeA1111(16, 16, http.StatusOK)
	defer srv.Close()

	job, _ := client.Build(request(), client.Automatic1111)
	c := client.NewClient(srv.URL)

	results := c.GenerateAsync(context.Background(), job, (&client.Handlers{}).
		WithStartedHandler(func() {
			fmt.Println("started")
		}).
		WithProgressHandler(func(percent int) {
			fmt.Printf("%d%%\n", percent)
		}).
		WithCompleteHandler(func(img *image.NRGBA) {
			fmt.Println("complete", img.Bounds().Dx())
		}),
	)
	res := <-results
	fmt.Println(res.Success)
	// Output:
	// started
	// 100%
	// complete 16
	// true
}

// Failures are reported through OnFailed and the Result, never as a panic
// or a returned error.
func ExampleHandlers_failure() {
	srv := fakeA1111(16, 16, http.StatusInternalServerError)
	defer srv.Close()

	job, _ := client.Build(request(), client.Automatic1111)
	c := client.NewClient(srv.URL)

	res := <-c.GenerateAsync(context.Background(), job, &client.Handlers{
		OnFailed: func(message string) {
			fmt.Println("failed")
		},
	})
	fmt.Println(res.Success, res.Kind)
	// Output:
	// failed
	// false protocol
}

func ExampleBuild_validation() {
	req := request()
	req.Width = 0

	_, err := client.Build(req, client.ComfyUI)
	fmt.Println(client.KindOf(err))
	// Output: validation
}
