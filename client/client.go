package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/richinsley/autoboard/internal/log"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultPollInterval    = time.Second
	DefaultMaxPollAttempts = 600
	DefaultMaxWait         = 10 * time.Minute

	interruptTimeout = 5 * time.Second
	bodySummaryLen   = 256
)

// Client submits jobs to one diffusion backend. It allows a single
// generation in flight at a time; the underlying http.Client is reused for
// sequential calls.
type Client struct {
	endpoint         string
	kind             BackendKind
	clientid         string
	httpclient       *http.Client
	timeout          time.Duration
	pollInterval     time.Duration
	maxPollAttempts  int
	maxWait          time.Duration
	progressInterval time.Duration
	useWebSocket     bool
	wsMaxRetry       int
	outputDir        string

	busy atomic.Bool
}

type Option func(*Client)

// WithBackend sets the protocol used by CheckConnection, Samplers and
// Interrupt. Generate always follows the kind of the job it is given.
func WithBackend(kind BackendKind) Option {
	return func(c *Client) { c.kind = kind }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpclient = hc }
}

// WithTimeout bounds each individual HTTP call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

func WithMaxPollAttempts(n int) Option {
	return func(c *Client) { c.maxPollAttempts = n }
}

func WithMaxWait(d time.Duration) Option {
	return func(c *Client) { c.maxWait = d }
}

// WithProgressInterval enables polling of /sdapi/v1/progress while an
// A1111 txt2img call is outstanding. Zero disables it.
func WithProgressInterval(d time.Duration) Option {
	return func(c *Client) { c.progressInterval = d }
}

// WithWebSocket enables the ComfyUI progress stream. maxRetry bounds the
// connection attempts made before the client falls back to polling only.
func WithWebSocket(maxRetry int) Option {
	return func(c *Client) {
		c.useWebSocket = true
		c.wsMaxRetry = maxRetry
	}
}

// WithOutputDir points at the backend's output folder when it is reachable
// from this machine, letting results be read from disk instead of /api/view.
func WithOutputDir(dir string) Option {
	return func(c *Client) { c.outputDir = dir }
}

func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:        strings.TrimRight(endpoint, "/"),
		kind:            Automatic1111,
		clientid:        uuid.New().String(),
		httpclient:      &http.Client{},
		timeout:         DefaultTimeout,
		pollInterval:    DefaultPollInterval,
		maxPollAttempts: DefaultMaxPollAttempts,
		maxWait:         DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the id sent with every queued prompt.
func (c *Client) ClientID() string {
	return c.clientid
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) Backend() BackendKind {
	return c.kind
}

// Busy reports whether a generation is in flight.
func (c *Client) Busy() bool {
	return c.busy.Load()
}

// Result is the outcome of one generation. On success Image is set; on
// failure Image is nil and Message describes the problem.
type Result struct {
	Success  bool
	Image    *image.NRGBA
	Kind     ErrorKind
	Message  string
	Err      error
	PromptID string
	Metadata map[string]string
	// Polls counts the queue polls that still saw the job pending.
	Polls int
}

// generation carries what a protocol run produced.
type generation struct {
	image    *image.NRGBA
	metadata map[string]string
	promptID string
	polls    int
}

func failed(err error, g *generation) *Result {
	r := &Result{
		Kind:    KindOf(err),
		Message: err.Error(),
		Err:     err,
	}
	if g != nil {
		r.PromptID = g.promptID
		r.Polls = g.polls
	}
	return r
}

// Generate submits job and waits for the resulting image. Every error is
// reported through the returned Result.
func (c *Client) Generate(ctx context.Context, job *Job) *Result {
	if !c.busy.CompareAndSwap(false, true) {
		return failed(ErrBusy, nil)
	}
	defer c.busy.Store(false)
	return c.run(ctx, job, nil)
}

// run executes job. Terminal handlers are left to the caller.
func (c *Client) run(ctx context.Context, job *Job, h *Handlers) *Result {
	logger := log.FromContextOrDiscard(ctx)

	if job == nil {
		return failed(newError(ErrorKindValidation, nil, "no job to submit"), nil)
	}
	if !job.Kind.Supported() {
		return failed(newError(ErrorKindUnsupportedBackend, nil, "backend %q is not supported", job.Kind), nil)
	}

	h.started()
	start := time.Now()

	var (
		g   *generation
		err error
	)
	switch job.Kind {
	case Automatic1111:
		g, err = c.txt2img(ctx, job, h)
	case ComfyUI:
		g, err = c.runWorkflow(ctx, job, h)
	}
	if err != nil {
		logger.Warn("generation failed", "backend", job.Kind, "kind", KindOf(err), "error", err)
		return failed(err, g)
	}

	logger.Info("generation complete",
		"backend", job.Kind,
		"prompt_id", g.promptID,
		"width", g.image.Bounds().Dx(),
		"height", g.image.Bounds().Dy(),
		"elapsed", time.Since(start),
	)
	return &Result{
		Success:  true,
		Image:    g.image,
		PromptID: g.promptID,
		Metadata: g.metadata,
		Polls:    g.polls,
	}
}

// canceledError turns a finished context into the matching client error.
func canceledError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(ErrorKindTimeout, ctx.Err(), "deadline exceeded")
	}
	return newError(ErrorKindCanceled, ctx.Err(), "generation canceled")
}

func (c *Client) url(path string) string {
	return c.endpoint + path
}

// do performs a single HTTP call bounded by the per-call timeout. The
// caller owns the response body.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, context.CancelFunc, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, newError(ErrorKindValidation, err, "encoding request body")
		}
		rdr = bytes.NewReader(data)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(callCtx, method, c.url(path), rdr)
	if err != nil {
		cancel()
		return nil, nil, newError(ErrorKindConnectivity, err, "creating request for %s", path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpclient.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, nil, canceledError(ctx)
		}
		return nil, nil, newError(ErrorKindConnectivity, err, "%s %s", method, path)
	}
	return resp, cancel, nil
}

// call performs method on path and decodes a 2xx JSON response into out.
// Anything else is a protocol error carrying the status and a body summary.
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	data, err := c.fetch(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return newError(ErrorKindProtocol, err, "%s %s: malformed response %q", method, path, summarize(data))
	}
	return nil
}

// fetch performs method on path and returns the body of a 2xx response.
func (c *Client) fetch(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	resp, cancel, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, canceledError(ctx)
		}
		return nil, newError(ErrorKindConnectivity, err, "reading %s response", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, newError(ErrorKindProtocol, nil, "%s %s returned %d: %s", method, path, resp.StatusCode, summarize(data))
	}
	return data, nil
}

func summarize(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > bodySummaryLen {
		return s[:bodySummaryLen] + "..."
	}
	return s
}

// Interrupt asks the backend to stop the job it is currently running.
func (c *Client) Interrupt(ctx context.Context) error {
	switch c.kind {
	case Automatic1111:
		return c.call(ctx, http.MethodPost, "/sdapi/v1/interrupt", nil, nil)
	case ComfyUI:
		return c.call(ctx, http.MethodPost, "/api/interrupt", struct{}{}, nil)
	}
	return newError(ErrorKindUnsupportedBackend, nil, "backend %q is not supported", c.kind)
}

// interruptDetached is the best effort interrupt sent after the caller has
// given up on a job, so it cannot use the caller's context.
func (c *Client) interruptDetached(ctx context.Context, kind BackendKind) {
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interruptTimeout)
	defer cancel()

	path := "/api/interrupt"
	if kind == Automatic1111 {
		path = "/sdapi/v1/interrupt"
	}
	if err := c.call(ictx, http.MethodPost, path, struct{}{}, nil); err != nil {
		log.FromContextOrDiscard(ctx).Warn("interrupt failed", "error", err)
	}
}

// ConnectionStatus is the outcome of probing the backend.
type ConnectionStatus struct {
	Connected bool
	Models    int
	APIType   BackendKind
	Error     string
}

// CheckConnection probes the configured backend and counts its models.
func (c *Client) CheckConnection(ctx context.Context) ConnectionStatus {
	status := ConnectionStatus{APIType: c.kind}

	var (
		models int
		err    error
	)
	switch c.kind {
	case Automatic1111:
		models, err = c.sdModelCount(ctx)
	case ComfyUI:
		models, err = c.comfyModelCount(ctx)
	default:
		err = newError(ErrorKindUnsupportedBackend, nil, "backend %q is not supported", c.kind)
	}
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true
	status.Models = models
	return status
}

// Samplers lists the sampler names the backend accepts.
func (c *Client) Samplers(ctx context.Context) ([]string, error) {
	switch c.kind {
	case Automatic1111:
		return c.sdSamplers(ctx)
	case ComfyUI:
		return c.comfySamplers(ctx)
	}
	return nil, newError(ErrorKindUnsupportedBackend, nil, "backend %q is not supported", c.kind)
}

func (c *Client) String() string {
	return fmt.Sprintf("%s@%s", c.kind, c.endpoint)
}
