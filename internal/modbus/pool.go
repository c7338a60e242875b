package modbus

import (
	"context"
	"sync"
	"time"

	"github.com/ibs-source/syslog/consumer/golang/internal/config"
	"github.com/ibs-source/syslog/consumer/golang/internal/domain"
	"github.com/ibs-source/syslog/consumer/golang/internal/health"
	"github.com/ibs-source/syslog/consumer/golang/internal/ports"
	"github.com/ibs-source/syslog/consumer/golang/internal/timeutil"
)

// restartGrace is how long RestartDevice/RemoveDevice wait for the previous
// polling task to exit before logging a warning. They keep waiting after that
// and do not proceed until the task has exited.
const restartGrace = 5 * time.Second

// ConnFactory builds the transport session for one device; tests substitute a
// fake implementation to avoid touching a real socket.
type ConnFactory func(dev config.DeviceConfig) ports.ModbusConn

// deviceContext is POOL's per-device record. ctx/cancel/wg/conn are only ever
// mutated by the goroutine holding restartMu (AddDevice, RemoveDevice, or
// RestartDevice); the running poll loop receives its own copies as parameters
// and never re-reads these fields, so no additional synchronization is needed
// to keep the invariant "at most one active polling task per device".
type deviceContext struct {
	cfg       config.DeviceConfig
	restartMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	conn    ports.ModbusConn
	restarts int
}

// Pool owns one polling task per Modbus device (POOL).
type Pool struct {
	mu          sync.RWMutex
	devices     map[string]*deviceContext
	connFactory ConnFactory
	health      *health.Tracker
	logger      ports.Logger
	out         chan<- domain.DeviceReading
}

// New creates an empty Pool. out is the shared outbound channel raw readings
// are delivered to; the caller (SVC) owns draining it.
func New(connFactory ConnFactory, tracker *health.Tracker, logger ports.Logger, out chan<- domain.DeviceReading) *Pool {
	return &Pool{
		devices:     make(map[string]*deviceContext),
		connFactory: connFactory,
		health:      tracker,
		logger:      logger,
		out:         out,
	}
}

// AddDevice validates nothing itself (config.Validate already ran); it spawns
// a polling task for dev. Returns false if dev.DeviceID is already tracked.
func (p *Pool) AddDevice(dev config.DeviceConfig) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.devices[dev.DeviceID]; exists {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	dc := &deviceContext{
		cfg:    dev,
		ctx:    ctx,
		cancel: cancel,
		wg:     &sync.WaitGroup{},
		conn:   p.connFactory(dev),
	}
	p.devices[dev.DeviceID] = dc
	p.spawn(dc)
	return true
}

// spawn starts the polling goroutine for dc's current ctx/conn/wg.
func (p *Pool) spawn(dc *deviceContext) {
	dc.wg.Add(1)
	go p.pollLoop(dc.ctx, dc.conn, dc.cfg, dc.wg)
}

// RemoveDevice cancels and awaits the polling task (warning if it outlasts
// restartGrace), disconnects, and drops the device from the pool. Returns false if unknown.
func (p *Pool) RemoveDevice(deviceID string) bool {
	p.mu.Lock()
	dc, ok := p.devices[deviceID]
	if ok {
		delete(p.devices, deviceID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}

	dc.restartMu.Lock()
	defer dc.restartMu.Unlock()
	dc.cancel()
	waitWithGrace(dc.wg, restartGrace, p.logger, deviceID)
	if err := dc.conn.Close(); err != nil && p.logger != nil {
		p.logger.Warn("error closing modbus connection on remove",
			ports.Field{Key: "device_id", Value: deviceID}, ports.Field{Key: "error", Value: err})
	}
	p.health.Remove(deviceID)
	return true
}

// RestartDevice implements the race-free restart protocol from spec §4.5:
// cancel the running task, wait for it to exit (warning once restartGrace has
// elapsed; the wait is not cut short), disconnect,
// install a fresh cancellation source and connection, and spawn a replacement.
// Concurrent restarts of the same device are serialized by dc.restartMu;
// restarts of different devices proceed fully in parallel.
func (p *Pool) RestartDevice(deviceID string) bool {
	p.mu.RLock()
	dc, ok := p.devices[deviceID]
	p.mu.RUnlock()
	if !ok {
		return false
	}

	dc.restartMu.Lock()
	defer dc.restartMu.Unlock()

	dc.cancel()
	waitWithGrace(dc.wg, restartGrace, p.logger, deviceID)
	if err := dc.conn.Close(); err != nil && p.logger != nil {
		p.logger.Warn("error closing modbus connection on restart",
			ports.Field{Key: "device_id", Value: deviceID}, ports.Field{Key: "error", Value: err})
	}

	ctx, cancel := context.WithCancel(context.Background())
	dc.ctx = ctx
	dc.cancel = cancel
	dc.wg = &sync.WaitGroup{}
	dc.conn = p.connFactory(dc.cfg)
	dc.restarts++

	p.spawn(dc)
	return true
}

// waitWithGrace waits for wg to finish. If that takes longer than grace it logs
// a warning and keeps waiting; it never returns before wg is done.
func waitWithGrace(wg *sync.WaitGroup, grace time.Duration, logger ports.Logger, deviceID string) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		if logger != nil {
			logger.Warn("polling task did not stop within grace period",
				ports.Field{Key: "device_id", Value: deviceID}, ports.Field{Key: "grace", Value: grace})
		}
		<-done
	}
}

// DeviceCount returns the number of devices currently tracked.
func (p *Pool) DeviceCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.devices)
}

// IsDeviceActive reports whether deviceID is currently tracked by the pool.
func (p *Pool) IsDeviceActive(deviceID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.devices[deviceID]
	return ok
}

// RestartCount returns how many times deviceID's polling task has been
// restarted, or 0 for an unknown device.
func (p *Pool) RestartCount(deviceID string) int {
	p.mu.RLock()
	dc, ok := p.devices[deviceID]
	p.mu.RUnlock()
	if !ok {
		return 0
	}
	dc.restartMu.Lock()
	defer dc.restartMu.Unlock()
	return dc.restarts
}

// pollLoop is the per-device polling task. It honors ctx cancellation at every
// suspension point and never blocks on the outbound channel longer than ctx allows.
func (p *Pool) pollLoop(ctx context.Context, conn ports.ModbusConn, cfg config.DeviceConfig, wg *sync.WaitGroup) {
	defer wg.Done()

	interval := timeutil.FromMillis(int64(cfg.PollIntervalMs))
	if interval <= 0 {
		interval = time.Second
	}

	for {
		cycleStart := time.Now()
		if ctx.Err() != nil {
			return
		}

		if !conn.IsConnected() {
			if err := conn.Connect(ctx); err != nil {
				p.health.RecordFailure(cfg.DeviceID, err.Error())
				p.emitUnavailableCycle(ctx, cfg, cycleStart)
				if !p.sleepRemaining(ctx, interval, cycleStart) {
					return
				}
				continue
			}
			p.health.SetConnected(cfg.DeviceID, true)
		}

		p.pollChannels(ctx, conn, cfg)

		if !p.sleepRemaining(ctx, interval, cycleStart) {
			return
		}
	}
}

// pollChannels issues one read per configured channel, in order, emitting a
// Good or Unavailable reading for each.
func (p *Pool) pollChannels(ctx context.Context, conn ports.ModbusConn, cfg config.DeviceConfig) {
	now := time.Now()
	for _, ch := range cfg.Channels {
		if ctx.Err() != nil {
			return
		}
		holding := ch.RegisterType == config.RegisterHolding
		raw, err := conn.ReadRegisters(ctx, cfg.UnitID, holding, ch.StartRegister, ch.RegisterCount)
		if err != nil {
			p.health.RecordFailure(cfg.DeviceID, err.Error())
			p.send(ctx, domain.NewUnavailableReading(cfg.DeviceID, ch.ChannelNumber, ch.Unit, now))
			continue
		}
		p.health.RecordSuccess(cfg.DeviceID, now)
		rawValue := decodeRawValue(raw, ch.DataType, ch.RegisterCount)
		unit := ch.Unit
		if unit == "" {
			unit = domain.DefaultUnit
		}
		p.send(ctx, domain.DeviceReading{
			DeviceID:  cfg.DeviceID,
			Channel:   ch.ChannelNumber,
			RawValue:  rawValue,
			Timestamp: now,
			Quality:   domain.QualityGood,
			Unit:      unit,
		})
	}
}

// emitUnavailableCycle emits one Unavailable reading per configured channel
// when the device could not be connected at all this cycle.
func (p *Pool) emitUnavailableCycle(ctx context.Context, cfg config.DeviceConfig, at time.Time) {
	for _, ch := range cfg.Channels {
		p.send(ctx, domain.NewUnavailableReading(cfg.DeviceID, ch.ChannelNumber, ch.Unit, at))
	}
}

// send delivers r to the outbound channel, honoring cancellation instead of
// blocking forever if the consumer has stopped draining.
func (p *Pool) send(ctx context.Context, r domain.DeviceReading) {
	select {
	case p.out <- r:
	case <-ctx.Done():
	}
}

// sleepRemaining sleeps the remainder of interval since cycleStart, returning
// false if ctx was canceled during the wait.
func (p *Pool) sleepRemaining(ctx context.Context, interval time.Duration, cycleStart time.Time) bool {
	remaining := interval - time.Since(cycleStart)
	if remaining <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
