package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"linkrotor/internal/config"
	"linkrotor/internal/eventbus"
	"linkrotor/internal/mtproto"
	"linkrotor/internal/notifier"
	"linkrotor/internal/observability/metrics"
	"linkrotor/internal/observability/server"
	"linkrotor/internal/rotation"
	rtsup "linkrotor/internal/runtime/supervisor"
	"linkrotor/internal/storage"
	"linkrotor/internal/task/scheduler"
	kit "linkrotor/internal/transport"
	telegram "linkrotor/internal/transport/telegram/adapter"
	"linkrotor/internal/transport/telegram/router"
	logx "linkrotor/pkg/logx"
	"linkrotor/pkg/systemd"
	"linkrotor/plugins/rotor"
	"linkrotor/plugins/system"
)

type App struct {
	cfgm      *config.ConfigManager
	sup       *rtsup.Supervisor
	startedAt time.Time

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	client  *mtproto.Client
	notif   *notifier.Service
	rot     *rotation.Supervisor
	sched   *scheduler.Service
	metrics *metrics.Metrics
	obs     *server.Service
	sd      *systemd.Notifier

	cmdm        *router.CommandManager
	rotor       *rotor.Plugin
	system      *system.Plugin
	supervisors *router.SupervisorRegistry

	updates chan kit.Update
}

// NewApp loads the config and builds every component. Nothing runs until
// Start. The store is open on success; Stop closes it.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	// past this point a failure must release the store
	a, err := build(cfgm, cfg, log, logSvc, bus, store, ad)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func build(cfgm *config.ConfigManager, cfg *config.Config, log logx.Logger, logSvc *logx.Service,
	bus eventbus.Bus, store storage.Store, ad *telegram.Adapter) (*App, error) {
	mc, err := mapMTProtoConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := mtproto.New(mc, log)
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus, store)

	rs, err := cfg.RotationSettings()
	if err != nil {
		return nil, err
	}
	rot := rotation.NewSupervisor(rotation.Options{
		Store:        store,
		Client:       client,
		Notifier:     notifSvc,
		Bus:          bus,
		Log:          log,
		NotifyTarget: notifyTarget(cfg),
		RateLimitPad: rs.RateLimitPad,
		MaxAttempts:  rs.MaxAttempts,
	})

	schedSvc := scheduler.New(mapSchedulerConfig(cfg), log, bus)

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	obs := server.New(mapServerConfig(cfg), metrics.Handler(reg), log)

	supervisors := router.NewSupervisorRegistry()
	startedAt := time.Now()

	rp := rotor.New(rotor.Deps{
		Store:     store,
		Rotations: rot,
		Validate:  mtproto.ValidateSession,
		Checker:   client,
		Log:       log,
	}, rotor.Settings{MinInterval: rs.MinInterval})
	sp := system.New(system.Deps{
		StartedAt:   startedAt,
		Workers:     rot,
		Notifier:    notifSvc,
		Scheduler:   schedSvc,
		Supervisors: supervisors,
	})

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
	cmdm.Use(rp.TrackUsers())

	return &App{
		cfgm:        cfgm,
		startedAt:   startedAt,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		adapter:     ad,
		client:      client,
		notif:       notifSvc,
		rot:         rot,
		sched:       schedSvc,
		metrics:     m,
		obs:         obs,
		sd:          systemd.New(log),
		cmdm:        cmdm,
		rotor:       rp,
		system:      sp,
		supervisors: supervisors,
		updates:     make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	// metrics first so no startup event is missed
	a.sup.Go("metrics.events", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.supervisors.Set("telegram.adapter", a.adapter.Supervisor)

	if a.notif.Enabled() {
		a.notif.Start(runCtx)
	}
	a.supervisors.Set("notifier", a.notif.Supervisor)

	// resume before any command can touch the registry
	resumed, err := a.rot.ResumeAll(runCtx)
	if err != nil {
		return fmt.Errorf("resume rotations: %w", err)
	}
	a.supervisors.Set("rotation", a.rot.Runtime)

	if err := a.registerHousekeeping(a.cfgm.Get()); err != nil {
		return err
	}
	a.sched.Start(runCtx)

	a.obs.Start(runCtx)
	a.supervisors.Set("obs_http", a.obs.Supervisor)

	cmds := append(a.rotor.Commands(), a.system.Commands()...)
	a.cmdm.SetRegistry(runCtx, cmds)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.supervisors.Set("commands", a.cmdm.Supervisor)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// debug only; every rename produces one
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go("systemd.watchdog", a.sd.Watchdog)
	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("rotating %d channel(s)", resumed))

	a.log.Info("app started", logx.Int("resumed", resumed))
	return nil
}

// applyConfig pushes a validated config into every live-reloadable component.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	a.sd.Reloading()
	defer a.sd.Ready()

	sum := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sum.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sum.Sections, ","))}, sum.Attrs...)
	a.log.Debug("config change summary", fields...)
	if len(sum.RestartRequired) > 0 {
		a.log.Warn("config changes require a restart to take effect",
			logx.String("sections", strings.Join(sum.RestartRequired, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.rot.SetNotifyTarget(notifyTarget(newCfg))

	if rs, err := newCfg.RotationSettings(); err != nil {
		a.log.Warn("invalid rotation config; keeping previous", logx.Err(err))
	} else {
		a.rotor.Apply(rotor.Settings{MinInterval: rs.MinInterval})
		if sum.Changed("rotation") {
			a.log.Info("rotation.rate_limit_pad and rotation.max_attempts apply to workers started after a restart")
		}
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prev := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case prev && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prev && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	a.sched.Apply(mapSchedulerConfig(newCfg))
	if sum.Changed("housekeeping") {
		if err := a.registerHousekeeping(newCfg); err != nil {
			a.log.Warn("housekeeping schedule rejected; keeping previous", logx.Err(err))
		}
	}

	a.obs.Reconfigure(ctx, mapServerConfig(newCfg))

	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: sum.Sections})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// unwind background loops first so no command starts a worker mid-shutdown
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// records stay active so the next process resumes them
	step("rotation", 5*time.Second, a.rot.Shutdown)
	step("obs_http", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
