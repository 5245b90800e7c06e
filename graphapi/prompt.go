package graphapi

// Prompt is the data that is enqueued to an instance of ComfyUI
type Prompt struct {
	ClientID  string           `json:"client_id,omitempty"`
	Nodes     Workflow         `json:"prompt"`
	ExtraData *PromptExtraData `json:"extra_data,omitempty"`
}

type PromptNode struct {
	// Inputs can be one of:
	//	float64 / int / int64
	//	string
	//	NodeRef or []interface{} where: [0] is string of target node
	//					                [1] is float64 (int) of slot index
	Inputs    map[string]interface{} `json:"inputs"`
	ClassType string                 `json:"class_type"`
}

// PromptExtraData is ignored by the sampler but is written into the PNG
// files the backend saves, so a panel can be traced back to its request.
type PromptExtraData struct {
	PngInfo map[string]interface{} `json:"extra_pnginfo,omitempty"`
}

// NewPrompt wraps a workflow for submission under the given client id.
func NewPrompt(clientID string, w Workflow) *Prompt {
	return &Prompt{
		ClientID: clientID,
		Nodes:    w,
	}
}
