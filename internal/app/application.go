package app

import (
	"context"
	"fmt"

	"github.com/R3E-Network/karma_ledger/internal/app/services/accounts"
	"github.com/R3E-Network/karma_ledger/internal/app/services/emission"
	"github.com/R3E-Network/karma_ledger/internal/app/services/stats"
	"github.com/R3E-Network/karma_ledger/internal/app/services/validator"
	"github.com/R3E-Network/karma_ledger/internal/app/services/wallets"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
	"github.com/R3E-Network/karma_ledger/internal/app/storage/memory"
	"github.com/R3E-Network/karma_ledger/internal/app/system"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

// Publisher announces committed blocks and has a lifecycle of its own.
type Publisher interface {
	system.Service
	emission.BlockPublisher
}

// Options selects the ledger backend and emission behaviour. A nil Store
// defaults to the in-memory implementation.
type Options struct {
	Store     storage.LedgerStore
	Emission  emission.Config
	Publisher Publisher
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store     storage.LedgerStore
	Accounts  *accounts.Service
	Wallets   *wallets.Service
	Stats     *stats.Service
	Validator *validator.Service
	Emission  *emission.Service
	Scheduler *emission.Scheduler
}

// New builds a fully initialised application.
func New(opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Store == nil {
		log.Warn("no ledger store configured; using in-memory store")
		opts.Store = memory.New()
	}
	if err := opts.Emission.Validate(); err != nil {
		return nil, err
	}

	manager := system.NewManager()

	emissionService := emission.New(opts.Store, opts.Emission, log.WithComponent("emission"))
	a := &Application{
		manager:   manager,
		log:       log,
		Store:     opts.Store,
		Accounts:  accounts.New(opts.Store, log.WithComponent("accounts")),
		Wallets:   wallets.New(opts.Store, log.WithComponent("wallets")),
		Stats:     stats.New(opts.Store),
		Validator: validator.New(opts.Store),
		Emission:  emissionService,
	}

	// The publisher starts before and stops after the scheduler so no
	// scheduled block is announced to a stopped publisher.
	if opts.Publisher != nil {
		emissionService.WithPublisher(opts.Publisher)
		if err := manager.Register(opts.Publisher); err != nil {
			return nil, fmt.Errorf("register %s: %w", opts.Publisher.Name(), err)
		}
	}

	if opts.Emission.Scheduled {
		a.Scheduler = emission.NewScheduler(emissionService, opts.Emission.Interval, log.WithComponent("emission-scheduler"))
		if err := manager.Register(a.Scheduler); err != nil {
			return nil, fmt.Errorf("register %s: %w", a.Scheduler.Name(), err)
		}
	} else {
		log.Info("scheduled emission disabled; manual triggers only")
	}

	return a, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists registered lifecycle services in start order.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
