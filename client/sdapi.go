package client

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/richinsley/autoboard/internal/log"
	"github.com/samber/lo"
)

/*
A1111 routes used:

@post("/sdapi/v1/txt2img")
@get("/sdapi/v1/sd-models")
@get("/sdapi/v1/samplers")
@get("/sdapi/v1/progress")
@post("/sdapi/v1/interrupt")
*/

// txt2img runs the synchronous protocol: one POST whose response carries
// the image. Failures are not retried.
func (c *Client) txt2img(ctx context.Context, job *Job, h *Handlers) (*generation, error) {
	if job.Txt2Img == nil {
		return nil, newError(ErrorKindValidation, nil, "job has no txt2img payload")
	}

	stopProgress := func() {}
	if c.progressInterval > 0 && h.wantsProgress() {
		pctx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.pollProgress(pctx, h)
		}()
		stopProgress = func() {
			cancel()
			wg.Wait()
		}
	}

	resp := &txt2imgResponse{}
	err := c.call(ctx, http.MethodPost, "/sdapi/v1/txt2img", job.Txt2Img, resp)
	stopProgress()
	if err != nil {
		if KindOf(err) == ErrorKindCanceled {
			c.interruptDetached(ctx, Automatic1111)
		}
		return nil, err
	}
	if len(resp.Images) == 0 {
		return nil, newError(ErrorKindProtocol, nil, "txt2img response has no images")
	}

	img, metadata, err := parseTxt2ImgImage(resp.Images[0])
	if err != nil {
		return nil, err
	}
	if resp.Info != "" {
		metadata = lo.Assign(metadata, map[string]string{"info": resp.Info})
	}
	h.progress(100)
	return &generation{image: img, metadata: metadata}, nil
}

func parseTxt2ImgImage(b64 string) (*image.NRGBA, map[string]string, error) {
	data, err := decodeBase64(b64)
	if err != nil {
		return nil, nil, err
	}
	return decodeImage(data)
}

// ParseTxt2ImgResponse decodes a txt2img response body into its first image.
func ParseTxt2ImgResponse(body []byte) (*image.NRGBA, error) {
	resp := &txt2imgResponse{}
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, newError(ErrorKindProtocol, err, "malformed txt2img response")
	}
	if len(resp.Images) == 0 {
		return nil, newError(ErrorKindProtocol, nil, "txt2img response has no images")
	}
	img, _, err := parseTxt2ImgImage(resp.Images[0])
	return img, err
}

// pollProgress reports /sdapi/v1/progress until ctx is done. Poll errors
// are logged and otherwise ignored; the txt2img call decides the outcome.
func (c *Client) pollProgress(ctx context.Context, h *Handlers) {
	logger := log.FromContextOrDiscard(ctx)
	ticker := time.NewTicker(c.progressInterval)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p := &sdProgress{}
		if err := c.call(ctx, http.MethodGet, "/sdapi/v1/progress?skip_current_image=true", nil, p); err != nil {
			if ctx.Err() == nil {
				logger.Debug("progress poll failed", "error", err)
			}
			continue
		}
		percent := int(p.Progress * 100)
		if percent != last {
			last = percent
			h.progress(percent)
		}
	}
}

func (c *Client) sdModelCount(ctx context.Context) (int, error) {
	var models []sdModel
	if err := c.call(ctx, http.MethodGet, "/sdapi/v1/sd-models", nil, &models); err != nil {
		return 0, err
	}
	return len(models), nil
}

func (c *Client) sdSamplers(ctx context.Context) ([]string, error) {
	var samplers []sdSampler
	if err := c.call(ctx, http.MethodGet, "/sdapi/v1/samplers", nil, &samplers); err != nil {
		return nil, err
	}
	names := lo.FilterMap(samplers, func(s sdSampler, _ int) (string, bool) {
		return s.Name, strings.TrimSpace(s.Name) != ""
	})
	return names, nil
}
