package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	commissionsvc "github.com/TriMatrix-Network/matrix_layer/internal/app/services/commission"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/services/hooks"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/services/ledger"
	membersvc "github.com/TriMatrix-Network/matrix_layer/internal/app/services/members"
	placementsvc "github.com/TriMatrix-Network/matrix_layer/internal/app/services/placement"
	recyclesvc "github.com/TriMatrix-Network/matrix_layer/internal/app/services/recycle"
	upgradesvc "github.com/TriMatrix-Network/matrix_layer/internal/app/services/upgrade"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage/memory"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/system"
	"github.com/TriMatrix-Network/matrix_layer/internal/config"
	"github.com/TriMatrix-Network/matrix_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Members     storage.MemberStore
	Trees       storage.TreeStore
	Snapshots   storage.SnapshotStore
	Activations storage.ActivationStore
	Commissions storage.CommissionStore
}

// Options tune the assembled application.
type Options struct {
	// Config falls back to the built-in compensation plan when nil.
	Config *config.Config
	// Ledger falls back to the in-process recorder when nil.
	Ledger ledger.Client
	// Hooks are the optional platform callbacks run after joins and upgrades.
	Hooks hooks.Hooks
}

// Application ties the engine services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Config      *config.Config
	Members     *membersvc.Service
	Placement   *placementsvc.Service
	Recycle     *recyclesvc.Service
	Upgrade     *upgradesvc.Service
	Commissions *commissionsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	mem := memory.New()
	if stores.Members == nil {
		stores.Members = mem
	}
	if stores.Trees == nil {
		stores.Trees = mem
	}
	if stores.Snapshots == nil {
		stores.Snapshots = mem
	}
	if stores.Activations == nil {
		stores.Activations = mem
	}
	if stores.Commissions == nil {
		stores.Commissions = mem
	}

	ledgerClient := opts.Ledger
	if ledgerClient == nil {
		if endpoint := cfg.Ledger.Endpoint; endpoint != "" {
			httpClient := &http.Client{Timeout: 10 * time.Second}
			client, err := ledger.NewHTTPClient(httpClient, endpoint, cfg.Ledger.APIKey, log)
			if err != nil {
				return nil, fmt.Errorf("configure ledger client: %w", err)
			}
			ledgerClient = client
		} else {
			log.Warn("ledger endpoint not set; using in-process recorder")
			ledgerClient = ledger.NewRecorder()
		}
	}

	manager := system.NewManager()
	plan := cfg.Matrix

	memberService := membersvc.New(stores.Members, log)
	cascade := commissionsvc.New(stores.Members, stores.Commissions, stores.Trees, ledgerClient, plan, log)
	recycler := recyclesvc.New(stores.Trees, stores.Snapshots, log)
	upgrader := upgradesvc.New(stores.Trees, stores.Activations, stores.Commissions, plan, log)
	notifier := hooks.New(opts.Hooks, log)
	upgrader.AttachDependencies(cascade, notifier)

	placement := placementsvc.New(stores.Members, stores.Trees, stores.Activations, plan, log)
	placement.AttachDependencies(recycler, upgrader, cascade, notifier)

	for _, name := range []string{"members", "placement", "recycle", "upgrade"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	retry := commissionsvc.NewRetryPoller(stores.Commissions, cascade, cfg.Ledger.RetryInterval, log)
	if err := manager.Register(retry); err != nil {
		return nil, fmt.Errorf("register %s: %w", retry.Name(), err)
	}

	return &Application{
		manager:     manager,
		log:         log,
		Config:      cfg,
		Members:     memberService,
		Placement:   placement,
		Recycle:     recycler,
		Upgrade:     upgrader,
		Commissions: cascade,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
