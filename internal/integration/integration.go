// Package integration assembles one running instance of the automation from
// settings and owns its lifecycle.
package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/spooni01/ha-automation-of-todo/internal/api"
	"github.com/spooni01/ha-automation-of-todo/internal/automation"
	"github.com/spooni01/ha-automation-of-todo/internal/conf"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore"
	"github.com/spooni01/ha-automation-of-todo/internal/datastore/repository"
	"github.com/spooni01/ha-automation-of-todo/internal/events"
	"github.com/spooni01/ha-automation-of-todo/internal/homeassistant"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
	"github.com/spooni01/ha-automation-of-todo/internal/mqtt"
	"github.com/spooni01/ha-automation-of-todo/internal/notification"
	"github.com/spooni01/ha-automation-of-todo/internal/observability/metrics"
	"github.com/spooni01/ha-automation-of-todo/internal/telemetry"
)

const reporterFlushTimeout = 2 * time.Second

// ErrNotReady means a dependency was unavailable during Setup and the
// caller may retry later.
var ErrNotReady = errors.New("integration not ready")

// HostCaller is what the sinks need from the host.
type HostCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

type setupOptions struct {
	caller  HostCaller
	now     func() time.Time
	release string
}

// Option customizes Setup.
type Option func(*setupOptions)

// WithHostCaller replaces the REST client used for service calls.
func WithHostCaller(c HostCaller) Option {
	return func(o *setupOptions) {
		o.caller = c
	}
}

// WithClock overrides the clock used for due dates.
func WithClock(now func() time.Time) Option {
	return func(o *setupOptions) {
		o.now = now
	}
}

// WithRelease tags error reports with a build version.
func WithRelease(v string) Option {
	return func(o *setupOptions) {
		o.release = v
	}
}

// Instance is one configured automation.
type Instance struct {
	settings *conf.Settings
	log      logger.Logger

	store    *datastore.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	reporter telemetry.Reporter
	bus      *automation.StateEventBus

	mqtt        *mqtt.Client
	stream      *homeassistant.EventStream
	statestream *mqtt.StatestreamSource
	server      *api.Server

	mu      sync.Mutex
	cancel  context.CancelFunc
	runDone chan struct{}

	unloadOnce sync.Once
	unloadErr  error
}

// Setup opens the rule store, builds the sinks and the coordinator and
// subscribes it to the state event bus. Event sources start with Run.
func Setup(ctx context.Context, settings *conf.Settings, log logger.Logger, opts ...Option) (*Instance, error) {
	o := setupOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	store, err := datastore.Open(settings.RulesDBPath(), datastore.Options{
		Debug: settings.Log.Level == "debug",
		Log:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	inst := &Instance{
		settings: settings,
		log:      log.With(logger.String("component", "integration")),
		store:    store,
		registry: prometheus.NewRegistry(),
	}
	if err := inst.build(ctx, o); err != nil {
		_ = inst.teardown()
		return nil, err
	}

	rules, err := store.Rules().ListRules(ctx)
	if err != nil {
		_ = inst.teardown()
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	inst.metrics.SetRuleCount(len(rules))

	inst.log.Info("integration ready",
		logger.String("db", store.Path()),
		logger.Int("rules", len(rules)),
		logger.Bool("websocket", inst.stream != nil),
		logger.Bool("mqtt", inst.mqtt != nil),
		logger.Bool("api", inst.server != nil),
		logger.Since(start))
	return inst, nil
}

func (i *Instance) build(ctx context.Context, o setupOptions) error {
	s := i.settings

	i.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(i.registry)
	if err != nil {
		return err
	}
	i.metrics = m

	i.reporter, err = telemetry.Init(s.Telemetry.SentryDSN, s.Telemetry.Environment, o.release)
	if err != nil {
		i.log.Warn("error reporting disabled", logger.Error(err))
		i.reporter = telemetry.Nop()
	}

	caller := o.caller
	if caller == nil {
		caller = homeassistant.NewClient(s.Host.BaseURL, s.Host.Token, s.Host.RequestTimeout.Std(), i.log)
	}

	notifiers := notification.Multi{notification.NewPersistentNotifier(caller)}
	if len(s.Notification.PushURLs) > 0 {
		push, err := notification.NewPushNotifier(s.Notification.PushURLs, s.Notification.PushTimeout.Std())
		if err != nil {
			return fmt.Errorf("failed to configure push notifications: %w", err)
		}
		notifiers = append(notifiers, push)
	}

	dispatchOpts := []automation.DispatcherOption{
		automation.WithDispatchMetrics(m),
		automation.WithDispatchReporter(i.reporter),
	}
	if s.MQTT.Enabled {
		i.mqtt = mqtt.NewClient(mqtt.Config{
			Broker:   s.MQTT.Broker,
			ClientID: s.MQTT.ClientID,
			Username: s.MQTT.Username,
			Password: s.MQTT.Password,
			QoS:      s.MQTT.QoS,
		}, i.log)
		if err := i.mqtt.Connect(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		if s.MQTT.StatestreamTopic != "" {
			i.statestream = mqtt.NewStatestreamSource(i.mqtt, s.MQTT.StatestreamTopic, i.log)
		}
		if s.MQTT.FiredTopic != "" {
			dispatchOpts = append(dispatchOpts, automation.WithPublisher(mqtt.NewFiredPublisher(i.mqtt, s.MQTT.FiredTopic)))
		}
	}

	dispatcher := automation.NewActionDispatcher(
		automation.NewTaskCreator(caller, s.Todo.EntityID), notifiers, i.log, dispatchOpts...)

	coordOpts := []automation.CoordinatorOption{automation.WithMetrics(m)}
	if o.now != nil {
		coordOpts = append(coordOpts, automation.WithClock(o.now))
	}
	coordinator := automation.NewCoordinator(i.store.Rules(), dispatcher, i.log, coordOpts...)

	i.bus = automation.NewStateEventBus(i.log,
		automation.WithBufferSize(s.Bus.BufferSize),
		automation.WithDropHook(m.RecordBusDrop),
		automation.WithReporter(i.reporter))
	i.bus.Subscribe(coordinator.HandleEvent)

	if s.Host.SubscribeEvents {
		i.stream, err = homeassistant.NewEventStream(s.Host.BaseURL, s.Host.Token, s.Host.ReconnectCeiling(), i.log)
		if err != nil {
			return err
		}
	}

	if s.API.Enabled {
		i.server = api.NewServer(api.Config{Listen: s.API.Listen, Token: s.API.Token}, i.store.Rules(), i.log, api.Options{
			Gatherer: i.registry,
			Health:   i.health,
		})
	}
	return nil
}

// Rules exposes the instance's rule store.
func (i *Instance) Rules() repository.RuleRepository {
	return i.store.Rules()
}

// Registry returns the instance's metrics registry.
func (i *Instance) Registry() *prometheus.Registry {
	return i.registry
}

// Publish queues a state change as if a source had delivered it.
func (i *Instance) Publish(event *events.StateChangedEvent) bool {
	return i.bus.Publish(event)
}

func (i *Instance) publish(event *events.StateChangedEvent) {
	i.bus.Publish(event)
}

func (i *Instance) health(ctx context.Context) error {
	sqlDB, err := i.store.DB().DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("rule store unavailable: %w", err)
	}
	if i.mqtt != nil && !i.mqtt.IsConnected() {
		return mqtt.ErrNotConnected
	}
	return nil
}

// Run starts the configured event sources and the API and blocks until ctx
// ends, Unload is called, or one of them fails.
func (i *Instance) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	defer close(done)
	defer cancel()

	i.mu.Lock()
	if i.cancel != nil {
		i.mu.Unlock()
		return errors.New("integration already running")
	}
	i.cancel = cancel
	i.runDone = done
	i.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	if i.stream != nil {
		g.Go(func() error {
			if err := i.stream.Run(gctx, i.publish); err != nil {
				return fmt.Errorf("host event stream stopped: %w", err)
			}
			return nil
		})
	}
	if i.statestream != nil {
		g.Go(func() error {
			if err := i.statestream.Run(gctx, i.publish); err != nil {
				return fmt.Errorf("statestream source stopped: %w", err)
			}
			return nil
		})
	}
	if i.server != nil {
		g.Go(func() error {
			if err := i.server.Run(gctx); err != nil {
				return fmt.Errorf("api server stopped: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// Unload stops the sources, drains the bus and closes the rule store. It
// is safe to call more than once.
func (i *Instance) Unload() error {
	i.unloadOnce.Do(func() {
		i.mu.Lock()
		cancel, done := i.cancel, i.runDone
		i.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		i.unloadErr = i.teardown()
		i.log.Info("integration unloaded")
	})
	return i.unloadErr
}

func (i *Instance) teardown() error {
	if i.bus != nil {
		i.bus.Stop()
	}
	if i.mqtt != nil {
		i.mqtt.Disconnect()
	}
	if i.reporter != nil {
		i.reporter.Flush(reporterFlushTimeout)
	}
	if err := i.store.Close(); err != nil {
		return fmt.Errorf("failed to close rule store: %w", err)
	}
	return nil
}

// Remove deletes the instance's rule store. A missing store is not an
// error.
func Remove(settings *conf.Settings) error {
	return datastore.Remove(settings.RulesDBPath())
}
