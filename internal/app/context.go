package app

import (
	"time"

	"snare/internal/config"
	"snare/pkg/audit"
	"snare/pkg/engine"
	"snare/pkg/filter"
	"snare/pkg/metrics"
	"snare/pkg/middleware"
	"snare/pkg/registry"
)

const auditWriteTimeout = 2 * time.Second

// AppContext holds the dependencies shared by every handler.
type AppContext struct {
	Config   *config.Config
	Registry *registry.Registry
	Chain    *filter.Chain
	Blocked  *middleware.BlockList
	// Audit is nil when no audit database is configured.
	Audit *audit.Store
}

// NewAppContext wires a registry over cfg.ScriptsDir whose scripts report to
// Prometheus and, when audit is non-nil, to the audit store.
func NewAppContext(cfg *config.Config, store *audit.Store) (*AppContext, error) {
	observers := []func(engine.Execution){metrics.ObserveExecution}
	if store != nil {
		observers = append(observers, store.Observer(auditWriteTimeout))
	}

	blocked, err := middleware.NewBlockList(cfg.BlockedIPs, cfg.BlocklistFile)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(cfg.ScriptsDir,
		engine.WithSandbox(cfg.Sandbox),
		engine.WithObserver(fanOut(observers)),
	)
	if err != nil {
		return nil, err
	}

	return &AppContext{
		Config:   cfg,
		Registry: reg,
		Chain:    filter.New(reg, cfg.LockWaitTimeout),
		Blocked:  blocked,
		Audit:    store,
	}, nil
}

func fanOut(observers []func(engine.Execution)) func(engine.Execution) {
	return func(e engine.Execution) {
		for _, o := range observers {
			o(e)
		}
	}
}

// Close releases the registry and the audit store.
func (a *AppContext) Close() error {
	err := a.Registry.Close()
	if a.Audit != nil {
		if aerr := a.Audit.Close(); err == nil {
			err = aerr
		}
	}
	return err
}
