package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pacebot/internal/adapters/telegram"
	"pacebot/internal/config"
	"pacebot/internal/eventbus"
	rtsup "pacebot/internal/runtime/supervisor"
	"pacebot/internal/sender"
	"pacebot/internal/storage"
	"pacebot/internal/transport"
	logx "pacebot/pkg/logx"
)

const maxDispatchRestarts = 20

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter
	lanes   *sender.Service
	cmds    *commands
	events  *eventbus.Recorder

	updates chan transport.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	logs, log := logx.New(mapLogConfig(cfg))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	a, err := build(ctx, cfgm, cfg, ad, logs, log)
	if err != nil {
		logs.Close()
		return nil, err
	}
	return a, nil
}

// build wires everything behind the adapter.
func build(ctx context.Context, cfgm *config.Manager, cfg *config.Config, ad transport.Adapter, logs *logx.Service, log logx.Logger) (*App, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		log.Warn("storage disabled; queued messages are lost on restart")
	}

	bus := eventbus.New()
	lanes, err := sender.New(cfg.Lanes, sender.Options{
		Log:    log,
		Store:  store,
		Bus:    bus,
		Sender: ad,
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	if len(cfg.Lanes) == 0 {
		log.Warn("no lanes configured; /send has nowhere to go")
	}

	events := eventbus.NewRecorder(50)
	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		bus:     bus,
		store:   store,
		adapter: ad,
		lanes:   lanes,
		events:  events,
		cmds: newCommands(log.With(logx.String("comp", "commands")), lanes, ad, events,
			cfg.Telegram.OwnerUserIDs, cfg.Telegram.CommandRate),
		updates: make(chan transport.Update, 256),
	}, nil
}

// Lanes exposes the sender lanes for embedding callers.
func (a *App) Lanes() *sender.Service { return a.lanes }

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	// Record queue events before lanes start so restores show up in /queue.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.recorder", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e := <-events:
				a.events.Add(e)
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Lanes outlive the signal context; Stop drains them within its own deadline.
	a.lanes.Start(context.WithoutCancel(a.sup.Context()))
	cfg := a.cfgm.Get()
	if err := a.lanes.StartReporter(cfg.Report.Schedule, cfg.Report.Timezone); err != nil {
		a.log.Warn("stats reporter disabled", logx.Err(err))
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.cmds.health = a.sup.Snapshot
	// A dispatcher that keeps failing takes the app down so systemd restarts it.
	a.sup.GoRestart("commands.dispatch", func(c context.Context) error {
		return a.cmds.dispatch(c, a.updates)
	}, rtsup.WithRestartBackoff(time.Second, 30*time.Second), rtsup.WithMaxRestarts(maxDispatchRestarts))

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.apply(next)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdNotify(a.log, "READY=1")
	a.log.Info("app started", logx.Any("lanes", a.lanes.Lanes()))
	return nil
}

// apply takes the live-reloadable parts of a new config. Storage, telegram
// token and lane settings need a restart.
func (a *App) apply(cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))
	a.cmds.setOwners(cfg.Telegram.OwnerUserIDs)
	a.cmds.setRate(cfg.Telegram.CommandRate)
	if err := a.lanes.StartReporter(cfg.Report.Schedule, cfg.Report.Timezone); err != nil {
		a.log.Warn("stats reporter disabled", logx.Err(err))
	}
	sdNotify(a.log, "STATUS=config reloaded")
}

// Stop shuts down in dependency order: lanes (so in-flight sends finish
// while the adapter is still up), adapter, storage.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, "STOPPING=1")
	a.log.Info("stopping")

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(c); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("lanes", 5*time.Second, func(c context.Context) error { a.lanes.Stop(c); return nil })
	a.sup.Cancel()
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
