// Package service implements SVC, the orchestrator: it wires POOL, ROUTE,
// MPROC, PROC, and STORE together and owns the process-wide start/stop
// sequence. Uses the embedded sub-struct composition and atomic-CAS
// lifecycle, and the boot sequencing, the teacher's process entrypoint used.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ibs-source/syslog/consumer/golang/internal/config"
	"github.com/ibs-source/syslog/consumer/golang/internal/dlq"
	"github.com/ibs-source/syslog/consumer/golang/internal/domain"
	"github.com/ibs-source/syslog/consumer/golang/internal/health"
	"github.com/ibs-source/syslog/consumer/golang/internal/modbus"
	"github.com/ibs-source/syslog/consumer/golang/internal/mqtt"
	"github.com/ibs-source/syslog/consumer/golang/internal/pipeline"
	"github.com/ibs-source/syslog/consumer/golang/internal/ports"
	"github.com/ibs-source/syslog/consumer/golang/internal/rate"
	"github.com/ibs-source/syslog/consumer/golang/internal/store"
)

// State is SVC's lifecycle state machine, mirrored from the processor's
// idle/running/stopping/stopped shape.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Deps groups external dependencies (passed by reference).
type Deps struct {
	cfg        *config.Config
	storeConn  ports.StoreClient
	mqttClient ports.MQTTClient
	logger     ports.Logger
	metrics    *domain.Metrics
}

// Lifecycle groups the state machine and cancellation source.
type Lifecycle struct {
	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
}

// Components groups the fully-wired internal components SVC owns.
type Components struct {
	pool      *modbus.Pool
	router    *mqtt.Router
	processor *pipeline.Processor
	writer    *store.Writer
	tracker   *health.Tracker
	rates     *rate.Calculator
	rawCh     chan domain.DeviceReading
}

// Service is SVC.
type Service struct {
	Deps
	Lifecycle
	Components

	startTime time.Time
	wg        sync.WaitGroup
}

// StatusSnapshot is the in-process admin query result, per spec §6.
type StatusSnapshot struct {
	IsRunning        bool
	StartTime        time.Time
	TotalDevices     int
	ConnectedDevices int
	PerDeviceHealth  map[string]domain.HealthRecord
	Store            store.HealthSnapshot
	Healthy          bool
}

// rawChannelCapacity sizes the channel carrying POOL's raw Modbus readings
// into PROC; generous enough that a momentarily slow PROC/STORE pair does not
// make POOL's send() select degrade to dropping cycles.
const rawChannelCapacity = 1024

// New wires every component from cfg but does not start anything; call Start.
func New(cfg *config.Config, storeConn ports.StoreClient, mqttClient ports.MQTTClient, logger ports.Logger, metrics *domain.Metrics) *Service {
	if metrics == nil {
		metrics = domain.NewMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())

	tracker := health.New(cfg.App.MaxConsecutiveFailures)
	rawCh := make(chan domain.DeviceReading, rawChannelCapacity)

	connFactory := func(dev config.DeviceConfig) ports.ModbusConn { return modbus.NewConn(dev) }
	pool := modbus.New(connFactory, tracker, logger, rawCh)

	rateCalc := rate.New(logger)
	processor := pipeline.New(rateCalc, logger)

	var dlqQueue *dlq.Queue
	if cfg.TimescaleDb.EnableDeadLetterQueue {
		var err error
		dlqQueue, err = dlq.New(cfg.TimescaleDb.DeadLetterQueuePath, 0, logger)
		if err != nil && logger != nil {
			logger.Error("failed to initialize dead letter queue, disabling it", ports.Field{Key: "error", Value: err})
		}
	}
	writer := store.New(storeConn, dlqQueue, cfg.TimescaleDb, metrics, logger)

	router := mqtt.NewRouter()

	return &Service{
		Deps: Deps{
			cfg:        cfg,
			storeConn:  storeConn,
			mqttClient: mqttClient,
			logger:     logger,
			metrics:    metrics,
		},
		Lifecycle: Lifecycle{ctx: ctx, cancel: cancel},
		Components: Components{
			pool:      pool,
			router:    router,
			processor: processor,
			writer:    writer,
			tracker:   tracker,
			rates:     rateCalc,
			rawCh:     rawCh,
		},
	}
}

// Start implements SVC's startup sequence (spec §4.11): storage connectivity
// test, POOL device registration, MQTT startup and subscription, record
// start_time. Configuration validation is the caller's responsibility
// (config.Load already runs it before a Service is constructed).
func (s *Service) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return errors.New("service already running")
	}

	initCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimescaleDb.DatabaseInitTimeoutSeconds)*time.Second)
	defer cancel()
	if err := s.storeConn.Ping(initCtx); err != nil {
		s.state.Store(int32(StateIdle))
		return fmt.Errorf("storage connection test failed: %w", err)
	}
	if err := s.storeConn.Bootstrap(initCtx); err != nil {
		s.state.Store(int32(StateIdle))
		return fmt.Errorf("storage schema bootstrap failed: %w", err)
	}

	s.writer.Start()

	for _, dev := range s.cfg.Devices {
		if !dev.Enabled {
			continue
		}
		s.pool.AddDevice(dev)
	}

	if s.mqttClient != nil && len(s.cfg.MqttDevices) > 0 {
		if err := s.startMQTT(ctx); err != nil {
			s.state.Store(int32(StateIdle))
			return fmt.Errorf("mqtt startup failed: %w", err)
		}
	}

	s.wg.Add(1)
	go s.runModbusPipeline()

	s.startTime = time.Now()
	s.logger.Info("service started",
		ports.Field{Key: "devices", Value: len(s.cfg.Devices)},
		ports.Field{Key: "mqtt_devices", Value: len(s.cfg.MqttDevices)},
	)
	return nil
}

// startMQTT connects the client, registers each distinct topic pattern once,
// for the first enabled device listing it (first-match-wins in device-array
// order), and subscribes to those patterns with a single shared dispatch handler.
func (s *Service) startMQTT(ctx context.Context) error {
	if err := s.mqttClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	seen := make(map[string]bool)
	dispatch := func(topic string, payload []byte) { s.router.Dispatch(topic, payload) }

	for _, dev := range s.cfg.MqttDevices {
		if !dev.Enabled {
			continue
		}
		handler := s.makeMQTTHandler(dev)
		for _, topic := range dev.Topics {
			if seen[topic] {
				continue
			}
			seen[topic] = true
			s.router.Register(topic, handler)
			qos := s.cfg.Mqtt.QualityOfServiceLevel
			if dev.QoSLevel != nil {
				qos = *dev.QoSLevel
			}
			if err := s.mqttClient.Subscribe(ctx, topic, qos, dispatch); err != nil {
				return fmt.Errorf("subscribe %s: %w", topic, err)
			}
		}
	}
	return nil
}

// makeMQTTHandler builds ROUTE's per-device callback: parse the payload via
// MPROC, and on success hand the reading directly to STORE, bypassing PROC
// (MQTT values are already-scaled measurements per spec §4.11).
func (s *Service) makeMQTTHandler(dev config.MqttDeviceConfig) ports.MessageHandler {
	return func(_ string, payload []byte) {
		now := time.Now()
		parsed, err := mqtt.ParsePayload(dev, payload, now)
		if err != nil {
			s.metrics.MQTTErrors.Add(1)
			s.logger.Warn("dropping unparseable mqtt payload",
				ports.Field{Key: "device_id", Value: dev.DeviceID}, ports.Field{Key: "error", Value: err})
			return
		}

		ts := now
		if parsed.HasTime {
			ts = parsed.Timestamp
		}
		unit := dev.Unit
		if unit == "" {
			unit = domain.DefaultUnit
		}

		reading := domain.DeviceReading{
			DeviceID:       dev.DeviceID,
			Channel:        parsed.Channel,
			RawValue:       parsed.RawValue,
			Timestamp:      ts,
			ProcessedValue: parsed.Value,
			Quality:        domain.QualityGood,
			Unit:           unit,
		}

		if dev.RateEnabled {
			key := domain.Key{DeviceID: dev.DeviceID, Channel: parsed.Channel}
			result := s.rates.Compute(key, ts, parsed.RawValue, rate.Params{
				RegisterCount:     1,
				WindowSeconds:     0,
				ScaleFactor:       dev.ScaleFactor,
				MaxChangeRate:     0,
				DegradedOnMaxRate: false,
			})
			reading.Rate = result.Rate
			if result.OverLimit {
				reading.Quality = domain.QualityDegraded
			}
		}

		submitCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		if err := s.writer.Submit(submitCtx, reading); err != nil {
			s.logger.Error("failed to hand mqtt reading to store",
				ports.Field{Key: "device_id", Value: dev.DeviceID}, ports.Field{Key: "error", Value: err})
		}
	}
}

// runModbusPipeline is SVC's one consumer of POOL's raw-reading channel: look
// up the channel config, run PROC, and hand the result to STORE.
func (s *Service) runModbusPipeline() {
	defer s.wg.Done()
	for {
		select {
		case r, ok := <-s.rawCh:
			if !ok {
				return
			}
			s.processAndStore(r)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) processAndStore(r domain.DeviceReading) {
	ch := s.lookupChannel(r.DeviceID, r.Channel)
	raw := pipeline.Raw{DeviceID: r.DeviceID, Channel: r.Channel, Value: r.RawValue, Timestamp: r.Timestamp, Quality: r.Quality}
	processed := s.processor.Process(raw, ch)

	submitCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.writer.Submit(submitCtx, processed); err != nil {
		s.logger.Error("failed to hand modbus reading to store",
			ports.Field{Key: "device_id", Value: r.DeviceID}, ports.Field{Key: "channel", Value: r.Channel}, ports.Field{Key: "error", Value: err})
	}
}

func (s *Service) lookupChannel(deviceID string, channel int) *config.ChannelConfig {
	for i := range s.cfg.Devices {
		if s.cfg.Devices[i].DeviceID != deviceID {
			continue
		}
		for j := range s.cfg.Devices[i].Channels {
			if s.cfg.Devices[i].Channels[j].ChannelNumber == channel {
				return &s.cfg.Devices[i].Channels[j]
			}
		}
	}
	return nil
}

// Status returns SVC's in-process admin query result, per spec §6.
func (s *Service) Status() StatusSnapshot {
	running := State(s.state.Load()) == StateRunning
	storeHealth := s.writer.HealthSnapshot()
	connected := s.tracker.ConnectedCount()

	healthy := storeHealth.BackgroundTaskHealthy && (connected > 0 || len(s.cfg.Devices) == 0)

	return StatusSnapshot{
		IsRunning:        running,
		StartTime:        s.startTime,
		TotalDevices:     len(s.cfg.Devices),
		ConnectedDevices: connected,
		PerDeviceHealth:  s.tracker.All(),
		Store:            storeHealth,
		Healthy:          healthy,
	}
}

// Stop implements SVC's shutdown sequence (spec §4.11): cancel POOL (each
// device is removed, awaiting its polling task), stop MQTTC, close STORE
// (drain plus one final DLQ persist; no DLQ replay pass is made), dispose.
// Idempotent.
func (s *Service) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}

	for _, dev := range s.cfg.Devices {
		s.pool.RemoveDevice(dev.DeviceID)
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect(s.cfg.App.ShutdownTimeout)
	}

	s.cancel()
	close(s.rawCh)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.App.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("timed out waiting for modbus pipeline goroutine to exit")
	}

	if err := s.writer.Close(shutdownCtx); err != nil && s.logger != nil {
		s.logger.Warn("store shutdown reported an error", ports.Field{Key: "error", Value: err})
	}

	s.state.Store(int32(StateStopped))
	s.logger.Info("service stopped")
	return nil
}

