package client

import (
	"context"
	"image"
	"log/slog"
)

// Handlers defines optional callbacks invoked while a generation runs.
// All handlers are optional - only provide the ones you care about. They
// are called from the goroutine running the generation, never from the
// caller's.
type Handlers struct {
	// OnStarted is called once the job passed local checks and is about to
	// be submitted
	OnStarted func()

	// OnProgress is called with a completion percentage in [0, 100]
	OnProgress func(percent int)

	// OnComplete is called with the decoded image
	OnComplete func(img *image.NRGBA)

	// OnFailed is called with a human readable message when the
	// generation did not produce an image
	OnFailed func(message string)
}

// DefaultHandlers returns Handlers that log started, completed and failed
// generations to logger.
func DefaultHandlers(logger *slog.Logger) *Handlers {
	return &Handlers{
		OnStarted: func() {
			logger.Info("Generation started")
		},
		OnComplete: func(img *image.NRGBA) {
			logger.Info("Generation completed", "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
		},
		OnFailed: func(message string) {
			logger.Error("Generation failed", "error", message)
		},
	}
}

// WithStartedHandler adds a started handler (builder pattern)
func (h *Handlers) WithStartedHandler(fn func()) *Handlers {
	h.OnStarted = fn
	return h
}

// WithProgressHandler adds a progress handler (builder pattern)
func (h *Handlers) WithProgressHandler(fn func(percent int)) *Handlers {
	h.OnProgress = fn
	return h
}

// WithCompleteHandler adds a complete handler (builder pattern)
func (h *Handlers) WithCompleteHandler(fn func(img *image.NRGBA)) *Handlers {
	h.OnComplete = fn
	return h
}

// WithFailedHandler adds a failed handler (builder pattern)
func (h *Handlers) WithFailedHandler(fn func(message string)) *Handlers {
	h.OnFailed = fn
	return h
}

func (h *Handlers) started() {
	if h != nil && h.OnStarted != nil {
		h.OnStarted()
	}
}

func (h *Handlers) wantsProgress() bool {
	return h != nil && h.OnProgress != nil
}

func (h *Handlers) progress(percent int) {
	if !h.wantsProgress() {
		return
	}
	h.OnProgress(min(max(percent, 0), 100))
}

// finish reports the terminal state of r and returns it.
func (h *Handlers) finish(r *Result) *Result {
	if h == nil {
		return r
	}
	if r.Success && h.OnComplete != nil {
		h.OnComplete(r.Image)
	}
	if !r.Success && h.OnFailed != nil {
		h.OnFailed(r.Message)
	}
	return r
}

// GenerateAsync runs the generation in its own goroutine and returns at
// once. The Result is delivered on the returned channel, which is closed
// afterwards. A call made while another generation is in flight gets a
// Result with ErrorKindBusy without touching the network, and none of its
// handlers are called.
//
// Example:
//
//	results := c.GenerateAsync(ctx, job,
//	    client.DefaultHandlers(logger).
//	        WithProgressHandler(func(percent int) {
//	            bar.Set(percent)
//	        }),
//	)
//	res := <-results
func (c *Client) GenerateAsync(ctx context.Context, job *Job, handlers *Handlers) <-chan *Result {
	results, err := c.TryGenerateAsync(ctx, job, handlers)
	if err != nil {
		refused := make(chan *Result, 1)
		refused <- failed(err, nil)
		close(refused)
		return refused
	}
	return results
}

// TryGenerateAsync is GenerateAsync for callers that need to know whether
// the job was accepted before any handler can run. It returns ErrBusy
// when another generation is in flight.
func (c *Client) TryGenerateAsync(ctx context.Context, job *Job, handlers *Handlers) (<-chan *Result, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	results := make(chan *Result, 1)
	go func() {
		defer close(results)
		r := c.run(ctx, job, handlers)
		// release before the terminal handler so it may submit again
		c.busy.Store(false)
		results <- handlers.finish(r)
	}()
	return results, nil
}
