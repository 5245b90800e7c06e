package storyboard

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand/v2"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/richinsley/autoboard/client"
	"github.com/richinsley/autoboard/config"
	"github.com/richinsley/autoboard/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

// Plan describes a sequence of panels generated from one scene.
type Plan struct {
	Scene string `validate:"required"`
	Count int    `validate:"gte=1,lte=50"`
	// Base carries the prompt and generation parameters shared by every panel.
	Base                 client.GenerationRequest `validate:"-"`
	StyleConsistency     bool
	CharacterConsistency bool
	Character            string `validate:"required_if=CharacterConsistency true"`
}

func (p Plan) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return &client.Error{Kind: client.ErrorKindValidation, Message: "invalid storyboard plan", Cause: err}
	}
	return nil
}

type Panel struct {
	Index    int
	Prompt   string
	Seed     *int64
	Image    *image.NRGBA
	Metadata map[string]string
}

// PanelError reports the panel a storyboard run stopped at.
type PanelError struct {
	Index  int
	Total  int
	Result *client.Result
}

func (e *PanelError) Error() string {
	return fmt.Sprintf("panel %d of %d failed: %s", e.Index+1, e.Total, e.Result.Message)
}

func (e *PanelError) Unwrap() error {
	return e.Result.Err
}

// PanelClient runs one generation job.
type PanelClient interface {
	Generate(ctx context.Context, job *client.Job) *client.Result
}

type Generator struct {
	Client  PanelClient
	Builder client.Builder
	Kind    client.BackendKind
}

func NewGenerator(i *do.Injector) (*Generator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &Generator{
		Client:  do.MustInvoke[*client.Client](i),
		Builder: cfg.Builder(),
		Kind:    cfg.Backend(),
	}, nil
}

// Generate produces plan.Count panels one after another. onProgress, when
// set, is called after each finished panel. The first failed panel ends the
// run with a *PanelError; the panels finished before it are returned too.
func (g *Generator) Generate(ctx context.Context, plan Plan, onProgress func(done, total int)) ([]Panel, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("storyboard")

	if err := plan.Validate(); err != nil {
		return nil, err
	}

	var pinned *int64
	if plan.StyleConsistency {
		seed := rand.Int64N(1 << 32)
		if plan.Base.Seed != nil {
			seed = *plan.Base.Seed
		}
		pinned = &seed
	}

	panels := make([]Panel, 0, plan.Count)
	for i := 0; i < plan.Count; i++ {
		if err := ctx.Err(); err != nil {
			return panels, err
		}

		req := plan.Base
		req.Prompt = plan.PanelPrompt(i)
		req.Seed = panelSeed(plan.Base.Seed, pinned, i)

		logger.Info("generating panel", "panel", i+1, "of", plan.Count)
		job, err := g.Builder.Build(req, g.Kind)
		if err != nil {
			return panels, &PanelError{Index: i, Total: plan.Count, Result: failedResult(err)}
		}
		res := g.Client.Generate(ctx, job)
		if !res.Success {
			logger.Warn("panel failed", "panel", i+1, "kind", res.Kind, "error", res.Message)
			return panels, &PanelError{Index: i, Total: plan.Count, Result: res}
		}

		panels = append(panels, Panel{
			Index:    i,
			Prompt:   req.Prompt,
			Seed:     req.Seed,
			Image:    res.Image,
			Metadata: res.Metadata,
		})
		if onProgress != nil {
			onProgress(i+1, plan.Count)
		}
	}
	return panels, nil
}

// PanelPrompt composes the prompt of panel i.
func (p Plan) PanelPrompt(i int) string {
	parts := []string{
		strings.TrimSpace(p.Base.Prompt),
		strings.TrimSpace(p.Scene),
		beat(i, p.Count),
		fmt.Sprintf("panel %d of %d", i+1, p.Count),
	}
	if p.CharacterConsistency {
		parts = append(parts, strings.TrimSpace(p.Character))
	}
	return strings.Join(lo.Filter(parts, func(s string, _ int) bool { return s != "" }), ", ")
}

// beat names where a panel sits in the scene.
func beat(i, n int) string {
	switch {
	case n == 1:
		return ""
	case i == 0:
		return "establishing shot"
	case i == n-1:
		return "closing shot"
	default:
		return "continuing action"
	}
}

// panelSeed pins every panel to the same seed when pinned is set. A fixed
// base seed otherwise advances per panel so panels stay reproducible but
// distinct; no base seed leaves the choice to the backend.
func panelSeed(base, pinned *int64, i int) *int64 {
	if pinned != nil {
		seed := *pinned
		return &seed
	}
	if base == nil {
		return nil
	}
	seed := *base + int64(i)
	return &seed
}

func failedResult(err error) *client.Result {
	var cerr *client.Error
	msg := err.Error()
	if errors.As(err, &cerr) {
		msg = cerr.Message
	}
	return &client.Result{Kind: client.KindOf(err), Message: msg, Err: err}
}
