package client

import "encoding/json"

// DataOutput describes one image produced by an output node. Data is only
// present when the server was asked to inline the image.
type DataOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
}

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	EmbeddedPython bool   `json:"embedded_python"`
	ComfyUIVersion string `json:"comfyui_version,omitempty"`
}

type GPU struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Index            int    `json:"index"`
	VRAM_Total       int64  `json:"vram_total"`
	VRAM_Free        int64  `json:"vram_free"`
	Torch_VRAM_Total int64  `json:"torch_vram_total"`
	Torch_VRAM_Free  int64  `json:"torch_vram_free"`
}

type promptResponse struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}

type PromptError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details"`
	ExtraInfo map[string]interface{} `json:"extra_info"`
}

type PromptErrorMessage struct {
	Error      PromptError            `json:"error"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}

// QueueStatus is the body of GET /api/queue. Each entry is laid out as
// [number, prompt_id, prompt, extra_data, outputs_to_execute].
type QueueStatus struct {
	Running []json.RawMessage `json:"queue_running"`
	Pending []json.RawMessage `json:"queue_pending"`
}

// Contains reports whether promptID is running or waiting to run.
func (q *QueueStatus) Contains(promptID string) bool {
	for _, entries := range [][]json.RawMessage{q.Running, q.Pending} {
		for _, raw := range entries {
			var entry []json.RawMessage
			if err := json.Unmarshal(raw, &entry); err != nil || len(entry) < 2 {
				continue
			}
			var id string
			if json.Unmarshal(entry[1], &id) == nil && id == promptID {
				return true
			}
		}
	}
	return false
}

type HistoryOutput struct {
	Images []DataOutput `json:"images"`
}

type HistoryStatus struct {
	StatusStr string          `json:"status_str"`
	Completed bool            `json:"completed"`
	Messages  [][]interface{} `json:"messages"`
}

// HistoryItem is one entry of GET /api/history/{prompt_id}.
type HistoryItem struct {
	Outputs map[string]HistoryOutput `json:"outputs"`
	Status  *HistoryStatus           `json:"status,omitempty"`
}

// errorMessage digs the exception text out of an errored history entry.
func (s *HistoryStatus) errorMessage() string {
	for _, m := range s.Messages {
		if len(m) < 2 || m[0] != "execution_error" {
			continue
		}
		if data, ok := m[1].(map[string]interface{}); ok {
			if msg, ok := data["exception_message"].(string); ok {
				return msg
			}
		}
	}
	return "backend reported an execution error"
}

// A1111 wire types.

type txt2imgResponse struct {
	Images     []string        `json:"images"`
	Parameters json.RawMessage `json:"parameters"`
	Info       string          `json:"info"`
}

type sdModel struct {
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
	Filename  string `json:"filename"`
}

type sdSampler struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

type sdProgress struct {
	Progress float64 `json:"progress"`
	ETA      float64 `json:"eta_relative"`
}
