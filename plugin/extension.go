package plugin

import (
	"context"
	"errors"

	"github.com/richinsley/autoboard/config"
	"github.com/richinsley/autoboard/internal/inject"
	"github.com/richinsley/autoboard/internal/log"
	"github.com/samber/do"
)

const (
	ActionID   = "autoboarding"
	ActionText = "AutoBoarding"
	ActionMenu = "tools/scripts"
)

// Extension is the entry point the host calls into. It only wires the
// services and forwards host events to the Docker.
type Extension struct {
	ctx        context.Context
	host       Host
	configPath string
	injector   *do.Injector
}

// NewExtension returns an extension reading its settings from configPath.
// An empty configPath means config.DefaultPath.
func NewExtension(ctx context.Context, host Host, configPath string) *Extension {
	return &Extension{ctx: ctx, host: host, configPath: configPath}
}

func (e *Extension) Setup() error {
	path := e.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log.FromContextOrDiscard(e.ctx).Info("autoboarding ready", "backend", cfg.BackendType, "url", cfg.BackendURL)

	e.injector = inject.Setup(e.ctx, cfg)
	do.ProvideValue[Host](e.injector, e.host)
	do.Provide[*Docker](e.injector, NewDocker)
	return nil
}

// CreateActions registers the menu entry that opens the panel.
func (e *Extension) CreateActions(w Window) {
	w.CreateAction(ActionID, ActionText, ActionMenu, func() {
		docker := e.Docker()
		if docker == nil {
			return
		}
		docker.ui().Show()
		go docker.CheckConnection(e.ctx)
	})
}

func (e *Extension) CanvasChanged(c Canvas) {
	if docker := e.Docker(); docker != nil {
		docker.CanvasChanged(c)
	}
}

// Docker returns the panel controller, or nil before Setup.
func (e *Extension) Docker() *Docker {
	if e.injector == nil {
		return nil
	}
	return do.MustInvoke[*Docker](e.injector)
}

// Shutdown releases the services built by Setup.
func (e *Extension) Shutdown() error {
	if e.injector == nil {
		return errors.New("extension was not set up")
	}
	return e.injector.Shutdown()
}
