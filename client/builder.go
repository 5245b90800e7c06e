package client

import (
	"math/rand/v2"

	"github.com/richinsley/autoboard/graphapi"
	"github.com/samber/lo"
)

const (
	DefaultCheckpoint     = "v1-5-pruned-emaonly.safetensors"
	DefaultScheduler      = "normal"
	DefaultFilenamePrefix = "autoboard"

	// OutputNodeID is the SaveImage node of the generated workflow.
	OutputNodeID = "9"
)

// comfySamplerNames maps the sampler names shown to users onto ComfyUI's
// KSampler identifiers. Names already in ComfyUI form pass through.
var comfySamplerNames = map[string]string{
	"Euler a":    "euler_ancestral",
	"Euler":      "euler",
	"LMS":        "lms",
	"Heun":       "heun",
	"DPM2":       "dpm_2",
	"DPM2 a":     "dpm_2_ancestral",
	"DPM++ 2S a": "dpmpp_2s_ancestral",
	"DPM++ 2M":   "dpmpp_2m",
}

// ComfySamplerName returns the ComfyUI identifier for a sampler name.
func ComfySamplerName(sampler string) string {
	if name, ok := comfySamplerNames[sampler]; ok {
		return name
	}
	return sampler
}

// Txt2ImgPayload is the flat body of an A1111 txt2img call.
type Txt2ImgPayload struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	SamplerName    string  `json:"sampler_name"`
	Seed           *int64  `json:"seed,omitempty"`
}

// Job is the backend specific form of a GenerationRequest. Exactly one of
// Workflow or Txt2Img is set, depending on Kind.
type Job struct {
	Kind       BackendKind
	Workflow   graphapi.Workflow
	Txt2Img    *Txt2ImgPayload
	OutputNode string
}

// Builder turns requests into jobs. The zero value uses the default
// checkpoint, scheduler and filename prefix and accepts DefaultSamplers.
type Builder struct {
	Checkpoint     string
	Scheduler      string
	FilenamePrefix string
	// Samplers is the accepted sampler set, usually the list reported by the
	// backend. Empty means DefaultSamplers.
	Samplers []string
}

// Build converts req into a job for kind using a zero Builder.
func Build(req GenerationRequest, kind BackendKind) (*Job, error) {
	return Builder{}.Build(req, kind)
}

func (b Builder) Build(req GenerationRequest, kind BackendKind) (*Job, error) {
	if !kind.Supported() {
		return nil, newError(ErrorKindUnsupportedBackend, nil, "backend %q is not supported", kind)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !b.knowsSampler(req.Sampler) {
		return nil, newError(ErrorKindValidation, nil, "unknown sampler %q", req.Sampler)
	}

	switch kind {
	case Automatic1111:
		return &Job{
			Kind: kind,
			Txt2Img: &Txt2ImgPayload{
				Prompt:         req.Prompt,
				NegativePrompt: req.NegativePrompt,
				Width:          req.Width,
				Height:         req.Height,
				Steps:          req.Steps,
				CFGScale:       req.CFGScale,
				SamplerName:    req.Sampler,
				Seed:           req.Seed,
			},
		}, nil
	default:
		w := b.workflow(req)
		if err := w.Validate(); err != nil {
			return nil, newError(ErrorKindValidation, err, "built workflow is invalid")
		}
		return &Job{Kind: kind, Workflow: w, OutputNode: OutputNodeID}, nil
	}
}

func (b Builder) knowsSampler(name string) bool {
	samplers := lo.Ternary(len(b.Samplers) > 0, b.Samplers, DefaultSamplers)
	if lo.Contains(samplers, name) {
		return true
	}
	// the backend may report its own identifiers rather than display names
	return lo.Contains(samplers, ComfySamplerName(name))
}

func (b Builder) workflow(req GenerationRequest) graphapi.Workflow {
	seed := rand.Int64N(1 << 32)
	if req.Seed != nil {
		seed = *req.Seed
	}

	return graphapi.Workflow{
		"4": {
			ClassType: "CheckpointLoaderSimple",
			Inputs: map[string]interface{}{
				"ckpt_name": lo.Ternary(b.Checkpoint != "", b.Checkpoint, DefaultCheckpoint),
			},
		},
		"5": {
			ClassType: "EmptyLatentImage",
			Inputs: map[string]interface{}{
				"width":      req.Width,
				"height":     req.Height,
				"batch_size": 1,
			},
		},
		"6": {
			ClassType: "CLIPTextEncode",
			Inputs: map[string]interface{}{
				"text": req.Prompt,
				"clip": graphapi.Ref("4", 1),
			},
		},
		"7": {
			ClassType: "CLIPTextEncode",
			Inputs: map[string]interface{}{
				"text": req.NegativePrompt,
				"clip": graphapi.Ref("4", 1),
			},
		},
		"3": {
			ClassType: "KSampler",
			Inputs: map[string]interface{}{
				"seed":         seed,
				"steps":        req.Steps,
				"cfg":          req.CFGScale,
				"sampler_name": ComfySamplerName(req.Sampler),
				"scheduler":    lo.Ternary(b.Scheduler != "", b.Scheduler, DefaultScheduler),
				"denoise":      1.0,
				"model":        graphapi.Ref("4", 0),
				"positive":     graphapi.Ref("6", 0),
				"negative":     graphapi.Ref("7", 0),
				"latent_image": graphapi.Ref("5", 0),
			},
		},
		"8": {
			ClassType: "VAEDecode",
			Inputs: map[string]interface{}{
				"samples": graphapi.Ref("3", 0),
				"vae":     graphapi.Ref("4", 2),
			},
		},
		OutputNodeID: {
			ClassType: "SaveImage",
			Inputs: map[string]interface{}{
				"filename_prefix": lo.Ternary(b.FilenamePrefix != "", b.FilenamePrefix, DefaultFilenamePrefix),
				"images":          graphapi.Ref("8", 0),
			},
		},
	}
}
