package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/safehome/internal/clock"
)

// DefaultPollInterval is the sensor polling cadence.
const DefaultPollInterval = time.Second

// IntrusionPipeline polls the sensors while the system runs. A detection on
// an active sensor starts an entry delay; if the sensor is still active and
// detecting when the delay ends and the system is still running, the alarm
// rings and the monitoring service is called.
type IntrusionPipeline struct {
	sensors  *SensorInventory
	alarm    *Alarm
	settings *SettingsRegistry
	events   *EventLog
	monitor  MonitoringNotifier
	alerts   *alertHook
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	stop    chan struct{}
	done    chan struct{}
	epoch   uint64
	pending map[int]*entryDelay
	tasks   sync.WaitGroup
}

// entryDelay is one scheduled entry delay. It is stale once the pipeline
// epoch or the sensor epoch it captured has moved on.
type entryDelay struct {
	sensorID    int
	sensorEpoch uint64
	epoch       uint64
	delay       time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewIntrusionPipeline constructs a stopped pipeline. A non-positive
// interval uses DefaultPollInterval.
func NewIntrusionPipeline(sensors *SensorInventory, alarm *Alarm, settings *SettingsRegistry, events *EventLog, monitor MonitoringNotifier, alerts *alertHook, c clock.Clock, interval time.Duration, logger *slog.Logger) *IntrusionPipeline {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &IntrusionPipeline{
		sensors:  sensors,
		alarm:    alarm,
		settings: settings,
		events:   events,
		monitor:  monitor,
		alerts:   alerts,
		clock:    clock.OrReal(c),
		interval: interval,
		logger:   defaultLogger(logger),
		runCtx:   context.Background(),
		pending:  make(map[int]*entryDelay),
	}
}

func (p *IntrusionPipeline) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, p.logger, "IntrusionPipeline", operation, attrs...)
}

// Start launches the poller. ctx bounds the poller and every entry-delay
// task scheduled while it runs, whatever context Poll is called with.
func (p *IntrusionPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.runCtx = ctx
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(ctx, p.stop, p.done)
	p.loggerWith(ctx, "Start").InfoContext(ctx, "poller started", "interval", p.interval)
}

// Stop halts the poller, cancels every pending entry delay and waits for
// the poller to exit. Cancelled tasks are joined by Wait.
func (p *IntrusionPipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancelPendingLocked()
	close(p.stop)
	done := p.done
	p.mu.Unlock()
	<-done
}

// CancelPending drops every scheduled entry delay. A delay cancelled here
// can no longer ring the alarm, even if its timer already fired.
func (p *IntrusionPipeline) CancelPending(ctx context.Context) {
	p.mu.Lock()
	n := p.cancelPendingLocked()
	p.mu.Unlock()
	if n > 0 {
		p.loggerWith(ctx, "CancelPending").InfoContext(ctx, "entry delays cancelled", "count", n)
	}
}

func (p *IntrusionPipeline) cancelPendingLocked() int {
	p.epoch++
	n := len(p.pending)
	for id, task := range p.pending {
		task.cancel()
		delete(p.pending, id)
	}
	return n
}

// Wait blocks until every entry-delay task has finished.
func (p *IntrusionPipeline) Wait() {
	p.tasks.Wait()
}

// Running reports whether the poller is active.
func (p *IntrusionPipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *IntrusionPipeline) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
			p.Poll(ctx)
		}
	}
}

// Poll runs one detection pass. Each detecting sensor gets at most one
// pending entry-delay task; nothing is scheduled while the alarm rings or
// the poller is stopped. The tasks run under the pipeline context, not ctx.
func (p *IntrusionPipeline) Poll(ctx context.Context) {
	if p.alarm.IsActive() {
		return
	}
	for _, d := range p.sensors.detections() {
		delay := p.settings.Get().EntryDelay

		p.mu.Lock()
		if !p.running || p.pending[d.id] != nil {
			p.mu.Unlock()
			continue
		}
		task := &entryDelay{sensorID: d.id, sensorEpoch: d.epoch, epoch: p.epoch, delay: delay}
		task.ctx, task.cancel = context.WithCancel(p.runCtx)
		p.pending[d.id] = task
		p.tasks.Add(1)
		p.mu.Unlock()

		p.loggerWith(ctx, "Poll", "sensor_id", d.id).InfoContext(ctx, "detection, entry delay started", "delay", delay)
		p.events.Warning(ctx, "intrusion", fmt.Sprintf("Sensor %d triggered, entry delay %s", d.id, delay), SensorRef(d.id))

		go p.awaitEntryDelay(task)
	}
}

// awaitEntryDelay sleeps out the delay, then rings the alarm if the task is
// still current and the sensor has stayed armed and detecting. The check
// and the ring share p.mu with CancelPending, so a disarm either happens
// before the check or after the ring.
func (p *IntrusionPipeline) awaitEntryDelay(task *entryDelay) {
	defer p.tasks.Done()
	defer task.cancel()
	ctx := task.ctx
	err := clock.Sleep(ctx, p.clock, task.delay)

	p.mu.Lock()
	current := p.pending[task.sensorID] == task && p.epoch == task.epoch
	if current {
		delete(p.pending, task.sensorID)
	}
	rang := false
	if err == nil && current && p.running && p.sensors.detectingSince(task.sensorID, task.sensorEpoch) {
		rang = p.alarm.Ring(ctx)
	}
	p.mu.Unlock()

	logger := p.loggerWith(ctx, "EntryDelay", "sensor_id", task.sensorID)
	switch {
	case err != nil:
		logger.DebugContext(ctx, "entry delay cancelled")
	case !rang && p.alarm.IsActive():
		logger.DebugContext(ctx, "alarm already active, trigger suppressed")
	case !rang:
		logger.InfoContext(ctx, "entry delay cancelled")
	default:
		p.raise(ctx, task.sensorID)
	}
}

// TriggerAlarm rings the alarm for a sensor and notifies the monitoring
// service. Triggers while the alarm is already ringing are suppressed.
func (p *IntrusionPipeline) TriggerAlarm(ctx context.Context, sensorID int) {
	if !p.alarm.Ring(ctx) {
		p.loggerWith(ctx, "TriggerAlarm", "sensor_id", sensorID).DebugContext(ctx, "alarm already active, trigger suppressed")
		return
	}
	p.raise(ctx, sensorID)
}

// raise records and reports an alarm that has just started ringing.
func (p *IntrusionPipeline) raise(ctx context.Context, sensorID int) {
	p.loggerWith(ctx, "TriggerAlarm", "sensor_id", sensorID).WarnContext(ctx, "intrusion alarm raised")

	incident := uuid.NewString()
	location := ""
	if st, err := p.sensors.Get(sensorID); err == nil && st.Location != "" {
		location = " (" + st.Location + ")"
	}
	p.events.Alarm(ctx, "intrusion",
		fmt.Sprintf("INTRUSION DETECTED at sensor %d%s [incident %s]", sensorID, location, incident), SensorRef(sensorID))

	settings := p.settings.Get()
	p.notifyMonitoring(ctx, settings.MonitorPhone, sensorID, incident)
	p.alerts.send(ctx, settings.AlertEmail, "SafeHome intrusion",
		fmt.Sprintf("Intrusion detected at sensor %d%s.\nIncident: %s\nTime: %s",
			sensorID, location, incident, p.clock.Now().Format(time.RFC1123)))
}

func (p *IntrusionPipeline) notifyMonitoring(ctx context.Context, phone string, sensorID int, incident string) {
	p.events.Info(ctx, "monitoring", fmt.Sprintf("Calling %s about sensor %d [incident %s]", phone, sensorID, incident), SensorRef(sensorID))
	if p.monitor == nil {
		return
	}
	if err := p.monitor.Call(ctx, phone, sensorID); err != nil {
		p.loggerWith(ctx, "NotifyMonitoring", "sensor_id", sensorID).ErrorContext(ctx, "monitoring call failed", "error", err)
		p.events.Error(ctx, "monitoring", fmt.Sprintf("Monitoring call to %s failed", phone), SensorRef(sensorID))
	}
}
