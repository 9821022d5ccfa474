package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	aqm "github.com/appetiteclub/apt"
	aqmevents "github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/apt/middleware"
	"github.com/expeditehq/expedite/internal/events"
	"github.com/expeditehq/expedite/internal/mongo"
	"github.com/expeditehq/expedite/internal/pos"
	"github.com/expeditehq/expedite/internal/reconcile"
	"github.com/expeditehq/expedite/internal/stream"
	"github.com/expeditehq/expedite/internal/ticket"
	"github.com/expeditehq/expedite/pkg"
	"github.com/expeditehq/expedite/pkg/event"
	"github.com/robfig/cron/v3"
)

const (
	AppName    = "expedite"
	AppVersion = "0.1.0"
)

// App wires the expediting service together.
type App struct {
	config *aqm.Config
	logger aqm.Logger
	micro  *aqm.Micro
}

func New(config *aqm.Config, logger aqm.Logger) (*App, error) {
	return &App{
		config: config,
		logger: logger,
	}, nil
}

// Initialize sets up all dependencies and components.
func (a *App) Initialize(ctx context.Context) error {
	ticketRepo := mongo.NewTicketRepo(a.config, a.logger)
	mirrorRepo := mongo.NewMirrorRepo(ticketRepo, a.logger)

	natsURL, _ := a.config.GetString("nats.url")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	var ticketStream *pkg.NATSStream
	var posSubscriber *pkg.NATSSubscriber
	var eventPublisher aqmevents.Publisher

	streamEnabled, _ := a.config.GetString("nats.stream.enabled")
	if streamEnabled == "true" {
		streamCfg := pkg.NATSStreamConfig{
			URL:          natsURL,
			StreamName:   "TICKET_EVENTS",
			Topic:        event.TicketsTopic,
			ConsumerName: "expedite-publisher",
			MaxAge:       24 * time.Hour,
			MaxMsgs:      0,
		}
		var err error
		ticketStream, err = pkg.NewNATSStream(streamCfg)
		if err != nil {
			return err
		}
		a.logger.Info("NATS stream initialized for persistent ticket events")
		eventPublisher = ticketStream

		posSubscriber, err = pkg.NewNATSSubscriber(natsURL, a.logger)
		if err != nil {
			return err
		}
	} else {
		publisher, err := pkg.NewNATSPublisher(natsURL)
		if err != nil {
			return err
		}
		eventPublisher = publisher

		posSubscriber, err = pkg.NewNATSSubscriber(natsURL, a.logger)
		if err != nil {
			return err
		}
	}

	var streamForCache aqmevents.StreamConsumer
	if ticketStream != nil {
		streamForCache = ticketStream
	}
	cache := ticket.NewTicketStateCache(streamForCache, ticketRepo, a.logger)

	hub := stream.NewHub(a.logger)
	cache.SetNotifier(hub)

	lifecycle := ticket.NewLifecycle(ticketRepo, mirrorRepo, cache, eventPublisher, a.logger)
	promoter := ticket.NewPromoter(ticketRepo, cache, eventPublisher, a.capacityConfig, a.logger)
	lifecycle.SetPromoter(promoter)

	posBaseURL, _ := a.config.GetString("pos.base_url")
	posToken, _ := a.config.GetString("pos.token")
	posClient := pos.NewHTTPClient(posBaseURL, posToken)

	reconciler := reconcile.NewReconciler(posClient, mirrorRepo, lifecycle, promoter, a.logger)

	handler := ticket.NewHandler(ticket.HandlerDeps{
		Repo:       ticketRepo,
		Cache:      cache,
		Lifecycle:  lifecycle,
		Promoter:   promoter,
		Reconciler: reconciler,
	}, a.config, a.logger)

	orderSubscriber := events.NewPOSOrderSubscriber(posSubscriber, mirrorRepo, lifecycle, promoter, a.logger)

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      a.logger,
		DisableCORS: true,
	})
	stack = append(stack, middleware.InternalOnly())

	lifecycles := []interface{}{ticketRepo, mirrorRepo, orderSubscriber}

	cacheLifecycle := aqm.LifecycleHooks{
		OnStart: func(ctx context.Context) error {
			if err := cache.Warm(ctx); err != nil {
				a.logger.Errorf("Failed to warm ticket cache: %v", err)
			}
			return nil
		},
	}
	lifecycles = append(lifecycles, cacheLifecycle)

	if seedEnabled, _ := a.config.GetString("seed.demo.enabled"); seedEnabled == "true" {
		seedLifecycle := aqm.LifecycleHooks{
			OnStart: ticket.DemoSeedingFunc(ctx, ticketRepo, mirrorRepo, cache, ticketRepo.GetDatabase, a.logger),
		}
		lifecycles = append(lifecycles, seedLifecycle)
	}

	lifecycles = append(lifecycles, a.reconcileScheduler(reconciler))

	if ticketStream != nil {
		lifecycles = append(lifecycles, aqm.LifecycleHooks{
			OnStop: func(context.Context) error { return ticketStream.Close() },
		})
	}
	if posSubscriber != nil {
		lifecycles = append(lifecycles, aqm.LifecycleHooks{
			OnStop: func(context.Context) error { return posSubscriber.Close() },
		})
	}

	options := []aqm.Option{
		aqm.WithConfig(a.config),
		aqm.WithLogger(a.logger),
		aqm.WithHTTPMiddleware(stack...),
		aqm.WithHTTPServerModules("web.port", handler, hub),
		aqm.WithLifecycle(lifecycles...),
		aqm.WithHealthChecks(AppName),
	}

	a.micro = aqm.NewMicro(options...)
	return nil
}

// capacityConfig resolves per-location admission limits. Per-location keys
// override the service-wide defaults.
func (a *App) capacityConfig(locationID string) ticket.CapacityConfig {
	cfg := ticket.DefaultCapacity()

	if total := a.configInt("capacity.total_limit"); total > 0 {
		cfg.TotalLimit = total
	}
	if online := a.configInt("capacity.online_sub_limit"); online > 0 {
		cfg.OnlineSubLimit = online
	}
	if total := a.configInt("capacity." + locationID + ".total_limit"); total > 0 {
		cfg.TotalLimit = total
	}
	if online := a.configInt("capacity." + locationID + ".online_sub_limit"); online > 0 {
		cfg.OnlineSubLimit = online
	}
	return cfg
}

func (a *App) configInt(key string) int {
	raw, _ := a.config.GetString(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		a.logger.Errorf("Invalid integer for config key %s: %q", key, raw)
		return 0
	}
	return n
}

// reconcileScheduler runs periodic reconciliation for every configured
// location. Locations come from a comma-separated config key; with none
// configured the scheduler stays idle and reconciliation is manual only.
func (a *App) reconcileScheduler(reconciler *reconcile.Reconciler) aqm.LifecycleHooks {
	schedule, _ := a.config.GetString("reconcile.schedule")
	if schedule == "" {
		schedule = "@every 3m"
	}

	rawLocations, _ := a.config.GetString("reconcile.locations")
	var locations []string
	for _, loc := range strings.Split(rawLocations, ",") {
		if loc = strings.TrimSpace(loc); loc != "" {
			locations = append(locations, loc)
		}
	}

	minutesBack := a.configInt("reconcile.minutes_back")
	concurrency := a.configInt("reconcile.concurrency")

	scheduler := cron.New()

	return aqm.LifecycleHooks{
		OnStart: func(ctx context.Context) error {
			if len(locations) == 0 {
				a.logger.Info("No reconcile locations configured, scheduler idle")
				return nil
			}
			for _, locationID := range locations {
				locationID := locationID
				_, err := scheduler.AddFunc(schedule, func() {
					if _, err := reconciler.Run(context.Background(), locationID, minutesBack, concurrency); err != nil {
						a.logger.Errorf("Scheduled reconciliation failed for %s: %v", locationID, err)
					}
				})
				if err != nil {
					return err
				}
			}
			scheduler.Start()
			a.logger.Infof("Reconciliation scheduled (%s) for %d locations", schedule, len(locations))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCtx := scheduler.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		},
	}
}

// Run starts the application.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("Starting %s(%s)", AppName, AppVersion)
	if err := a.micro.Run(ctx); err != nil {
		return err
	}
	a.logger.Infof("%s(%s) stopped", AppName, AppVersion)
	return nil
}
