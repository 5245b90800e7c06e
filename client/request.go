package client

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// BackendKind selects the wire protocol spoken to the diffusion server.
type BackendKind string

const (
	// Automatic1111 is the synchronous REST protocol (/sdapi/v1/txt2img).
	Automatic1111 BackendKind = "automatic1111"
	// ComfyUI is the asynchronous queue protocol (/api/prompt, /api/queue, /api/history).
	ComfyUI BackendKind = "comfyui"
)

func (k BackendKind) Supported() bool {
	return k == Automatic1111 || k == ComfyUI
}

// DefaultSamplers is the sampler set offered when the backend has not been
// asked for its own list.
var DefaultSamplers = []string{
	"Euler a", "Euler", "LMS", "Heun", "DPM2",
	"DPM2 a", "DPM++ 2S a", "DPM++ 2M",
}

// GenerationRequest is created per user action and never mutated after
// it has been built into a Job.
type GenerationRequest struct {
	Prompt         string  `json:"prompt" validate:"required"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width" validate:"gte=64,lte=2048"`
	Height         int     `json:"height" validate:"gte=64,lte=2048"`
	Steps          int     `json:"steps" validate:"gte=1,lte=150"`
	CFGScale       float64 `json:"cfg_scale" validate:"gte=1,lte=30"`
	Sampler        string  `json:"sampler" validate:"required"`
	Seed           *int64  `json:"seed,omitempty"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the request against the ranges the backends accept.
// Nothing is clamped: an out of range value is a validation error.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return newError(ErrorKindValidation, nil, "prompt must not be empty")
	}
	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newError(ErrorKindValidation, err, "invalid generation request")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s=%v (%s %s)", fe.Field(), fe.Value(), fe.Tag(), fe.Param()))
	}
	return newError(ErrorKindValidation, err, "invalid generation request: %s", strings.Join(fields, ", "))
}
