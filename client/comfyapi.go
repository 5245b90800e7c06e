package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/richinsley/autoboard/graphapi"
	"github.com/richinsley/autoboard/internal/log"
	"github.com/samber/lo"
)

/*
ComfyUI routes used:

@routes.get("/api/view")
@routes.get("/api/system_stats")
@routes.get("/api/object_info/{node_class}")
@routes.get("/api/history/{prompt_id}")
@routes.get("/api/queue")
@routes.get("/ws")

@routes.post("/api/prompt")
@routes.post("/api/interrupt")
*/

const (
	wsBaseDelay = 100 * time.Millisecond
	wsMaxDelay  = 2 * time.Second
)

// runWorkflow runs the queue protocol:
// SUBMITTED -> RUNNING (polled) -> COMPLETE -> FETCHED, or FAILED when the
// backend reports an execution error or the output node has no image.
func (c *Client) runWorkflow(ctx context.Context, job *Job, h *Handlers) (*generation, error) {
	logger := log.FromContextOrDiscard(ctx)
	if len(job.Workflow) == 0 {
		return nil, newError(ErrorKindValidation, nil, "job has no workflow")
	}
	outputNode := lo.Ternary(job.OutputNode != "", job.OutputNode, OutputNodeID)

	var tracker *progressTracker
	stopStream := func() {}
	if c.useWebSocket {
		tracker = newProgressTracker(h, logger)
		ws := &WebSocketConnection{
			WebSocketURL: c.wsURL(),
			MaxRetry:     c.wsMaxRetry,
			BaseDelay:    wsBaseDelay,
			MaxDelay:     wsMaxDelay,
			Callback:     tracker,
			Logger:       logger,
			Dialer:       websocket.Dialer{HandshakeTimeout: c.timeout},
		}
		// connect before queueing so no message about our prompt is missed
		if err := ws.Connect(ctx); err != nil {
			logger.Warn("progress stream unavailable, polling only", "error", err)
			tracker = nil
		} else {
			stopStream = sync.OnceFunc(func() { _ = ws.Close() })
			defer stopStream()
		}
	}

	g := &generation{}
	id, err := c.queuePrompt(ctx, job.Workflow)
	if err != nil {
		return g, err
	}
	g.promptID = id
	logger.Info("prompt queued", "prompt_id", id, "nodes", len(job.Workflow))

	if err := c.waitForPrompt(ctx, g, tracker); err != nil {
		if KindOf(err) == ErrorKindCanceled {
			c.interruptDetached(ctx, ComfyUI)
		}
		return g, err
	}
	// the reader goroutine is joined here, so no stale percent can follow
	// the final 100
	stopStream()

	item, err := c.history(ctx, id)
	if err != nil {
		return g, err
	}
	if item.Status != nil && item.Status.StatusStr == "error" {
		return g, newError(ErrorKindGeneration, nil, "prompt %s failed: %s", id, item.Status.errorMessage())
	}
	out, ok := item.Outputs[outputNode]
	if !ok || len(out.Images) == 0 {
		return g, newError(ErrorKindGeneration, nil, "output node %s of prompt %s produced no images", outputNode, id)
	}

	data, err := c.imageBytes(ctx, out.Images[0])
	if err != nil {
		return g, err
	}
	g.image, g.metadata, err = decodeImage(data)
	if err != nil {
		return g, err
	}
	h.progress(100)
	return g, nil
}

// waitForPrompt polls the queue until id is neither running nor pending.
// It gives up after maxPollAttempts polls or maxWait, whichever comes first.
func (c *Client) waitForPrompt(ctx context.Context, g *generation, tracker *progressTracker) error {
	wctx, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if tracker != nil {
		wake = tracker.wake
	}

	for attempt := 0; ; attempt++ {
		if tracker != nil {
			if msg, ok := tracker.failure(g.promptID); ok {
				return newError(ErrorKindGeneration, nil, "prompt %s failed: %s", g.promptID, msg)
			}
		}
		if attempt >= c.maxPollAttempts {
			return newError(ErrorKindTimeout, nil, "prompt %s still queued after %d polls", g.promptID, attempt)
		}

		q, err := c.queueStatus(wctx)
		if err != nil {
			return c.waitError(ctx, wctx, g, err)
		}
		if !q.Contains(g.promptID) {
			return nil
		}
		g.polls++

		select {
		case <-wctx.Done():
			return c.waitError(ctx, wctx, g, wctx.Err())
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (c *Client) waitError(ctx, wctx context.Context, g *generation, err error) error {
	switch {
	case ctx.Err() != nil:
		return canceledError(ctx)
	case wctx.Err() != nil:
		return newError(ErrorKindTimeout, err, "prompt %s still queued after %s", g.promptID, c.maxWait)
	}
	return err
}

func (c *Client) queuePrompt(ctx context.Context, w graphapi.Workflow) (string, error) {
	data, err := c.fetch(ctx, http.MethodPost, "/api/prompt", graphapi.NewPrompt(c.clientid, w))
	if err != nil {
		// {"error": {"type": "prompt_outputs_failed_validation", "message": "..."}, "node_errors": {...}}
		perror := &PromptErrorMessage{}
		if KindOf(err) == ErrorKindProtocol && json.Unmarshal(data, perror) == nil && perror.Error.Message != "" {
			return "", newError(ErrorKindProtocol, err, "prompt rejected: %s", perror.Error.Message)
		}
		return "", err
	}

	resp := &promptResponse{}
	if err := json.Unmarshal(data, resp); err != nil {
		return "", newError(ErrorKindProtocol, err, "malformed /api/prompt response %q", summarize(data))
	}
	if resp.PromptID == "" {
		return "", newError(ErrorKindProtocol, nil, "/api/prompt response has no prompt_id")
	}
	return resp.PromptID, nil
}

func (c *Client) queueStatus(ctx context.Context) (*QueueStatus, error) {
	q := &QueueStatus{}
	if err := c.call(ctx, http.MethodGet, "/api/queue", nil, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (c *Client) history(ctx context.Context, promptID string) (*HistoryItem, error) {
	history := make(map[string]HistoryItem)
	if err := c.call(ctx, http.MethodGet, "/api/history/"+url.PathEscape(promptID), nil, &history); err != nil {
		return nil, err
	}
	item, ok := history[promptID]
	if !ok {
		return nil, newError(ErrorKindProtocol, nil, "history has no entry for prompt %s", promptID)
	}
	return &item, nil
}

// imageBytes resolves an image descriptor: inline data first, then the
// shared output folder, then /api/view.
func (c *Client) imageBytes(ctx context.Context, d DataOutput) ([]byte, error) {
	if d.Data != "" {
		return decodeBase64(d.Data)
	}
	if d.Filename == "" {
		return nil, newError(ErrorKindProtocol, nil, "image descriptor has neither data nor filename")
	}

	if c.outputDir != "" {
		rel := filepath.Join(d.Subfolder, d.Filename)
		if filepath.IsLocal(rel) {
			data, err := os.ReadFile(filepath.Join(c.outputDir, rel))
			if err == nil {
				return data, nil
			}
			log.FromContextOrDiscard(ctx).Debug("output file not readable, using /api/view", "path", rel, "error", err)
		}
	}

	return c.GetImage(ctx, d)
}

// GetImage downloads an output image through /api/view.
func (c *Client) GetImage(ctx context.Context, d DataOutput) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", d.Filename)
	params.Add("subfolder", d.Subfolder)
	params.Add("type", lo.Ternary(d.Type != "", d.Type, "output"))
	return c.fetch(ctx, http.MethodGet, "/api/view?"+params.Encode(), nil)
}

func (c *Client) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	stats := &SystemStats{}
	if err := c.call(ctx, http.MethodGet, "/api/system_stats", nil, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// GetObjectInfo retrieves the metadata of a single node class.
func (c *Client) GetObjectInfo(ctx context.Context, class string) (*graphapi.NodeObject, error) {
	result := &graphapi.NodeObjects{}
	if err := c.call(ctx, http.MethodGet, "/api/object_info/"+url.PathEscape(class), nil, &result.Objects); err != nil {
		return nil, err
	}
	obj := result.GetNodeObjectByName(class)
	if obj == nil {
		return nil, newError(ErrorKindProtocol, nil, "backend does not know node class %s", class)
	}
	return obj, nil
}

func (c *Client) comfyModelCount(ctx context.Context) (int, error) {
	if _, err := c.GetSystemStats(ctx); err != nil {
		return 0, err
	}
	loader, err := c.GetObjectInfo(ctx, "CheckpointLoaderSimple")
	if err != nil {
		return 0, err
	}
	return len(loader.ComboValues("ckpt_name")), nil
}

func (c *Client) comfySamplers(ctx context.Context) ([]string, error) {
	sampler, err := c.GetObjectInfo(ctx, "KSampler")
	if err != nil {
		return nil, err
	}
	return sampler.ComboValues("sampler_name"), nil
}

func (c *Client) wsURL() string {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return ""
	}
	u.Scheme = lo.Ternary(u.Scheme == "https", "wss", "ws")
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": {c.clientid}}.Encode()
	return u.String()
}

// progressTracker consumes the websocket stream of one generation. It
// forwards progress and remembers which prompts failed.
type progressTracker struct {
	handlers *Handlers
	logger   *slog.Logger
	wake     chan struct{}

	mu       sync.Mutex
	failures map[string]string
	last     int
}

func newProgressTracker(h *Handlers, logger *slog.Logger) *progressTracker {
	return &progressTracker{
		handlers: h,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		failures: make(map[string]string),
		last:     -1,
	}
}

// OnMessage processes each message received from the websocket
// connection to ComfyUI.
func (t *progressTracker) OnMessage(msg []byte) {
	message := &WSStatusMessage{}
	if err := json.Unmarshal(msg, message); err != nil {
		t.logger.Debug("ignoring undecodable websocket message", "error", err)
		return
	}

	switch message.Type {
	case "status":
		s := message.Data.(*WSMessageDataStatus)
		t.logger.Debug("queue status", "queue_remaining", s.Status.ExecInfo.QueueRemaining)
	case "progress":
		s := message.Data.(*WSMessageDataProgress)
		t.mu.Lock()
		percent := s.Percent()
		changed := percent != t.last
		t.last = percent
		t.mu.Unlock()
		if changed {
			t.handlers.progress(percent)
		}
	case "executing":
		s := message.Data.(*WSMessageDataExecuting)
		if s.Node == nil {
			// final node was processed
			t.signal()
		}
	case "execution_success":
		t.signal()
	case "execution_interrupted":
		s := message.Data.(*WSMessageExecutionInterrupted)
		t.fail(s.PromptID, fmt.Sprintf("interrupted at node %s (%s)", s.Node, s.NodeType))
	case "execution_error":
		s := message.Data.(*WSMessageExecutionError)
		t.fail(s.PromptID, fmt.Sprintf("node %s (%s) raised %s: %s", s.Node, s.NodeType, s.ExceptionType, s.ExceptionMessage))
	}
}

func (t *progressTracker) fail(promptID, msg string) {
	t.mu.Lock()
	t.failures[promptID] = msg
	t.mu.Unlock()
	t.signal()
}

func (t *progressTracker) failure(promptID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.failures[promptID]
	return msg, ok
}

func (t *progressTracker) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}
