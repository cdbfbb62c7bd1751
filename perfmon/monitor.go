// Package perfmon emits periodic ExecutorHeartbeat envelopes describing a
// worker process's CPU, memory, and message-count activity, grounded on
// PerformanceMonitor.
package perfmon

import (
	"sync"
	"time"

	"github.com/dreamworksanimation/arras4-core/address"
	"github.com/dreamworksanimation/arras4-core/internal/logging"
	"github.com/dreamworksanimation/arras4-core/limits"
	"github.com/dreamworksanimation/arras4-core/message"
)

// heartbeatInterval is how often Run emits a heartbeat.
const heartbeatInterval = 5 * time.Second

// windowBuckets is the rolling-window depth: 12 x 5s buckets covers the
// trailing 60 seconds of activity.
const windowBuckets = 12

// Sender is the subset of *dispatcher.Dispatcher a Monitor needs: send a
// heartbeat envelope and read the running sent/received counters.
type Sender interface {
	Send(env message.Envelope) error
	SentMessageCount() uint64
	ReceivedMessageCount() uint64
}

// Tap receives a copy of every heartbeat a Monitor emits, for an optional
// debug observer. Broadcast must not block the monitor's send loop.
type Tap interface {
	Broadcast(h *message.ExecutorHeartbeat)
}

// Monitor periodically builds and sends an ExecutorHeartbeat through a
// Sender. The zero value is not usable; use New. Run blocks until Stop is
// called, so start it on its own goroutine.
type Monitor struct {
	lim    limits.ExecutionLimits
	sender Sender
	from   address.Address
	to     []address.Address
	tap    Tap

	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Monitor that addresses heartbeats from 'from' to 'to'
// (normally the owning node, with a null computation component) through
// sender.
func New(lim limits.ExecutionLimits, sender Sender, from address.Address, to ...address.Address) *Monitor {
	return &Monitor{
		lim:      lim,
		sender:   sender,
		from:     from,
		to:       to,
		interval: heartbeatInterval,
		stopCh:   make(chan struct{}),
	}
}

// SetTap attaches an optional debug observer; nil clears it. Not safe to
// call concurrently with Run.
func (m *Monitor) SetTap(tap Tap) { m.tap = tap }

// Stop makes Run return as soon as it reaches its wait between heartbeats,
// cutting that wait short, mirroring PerformanceMonitor::stop(). Safe to
// call more than once, and from any goroutine.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Run sends one heartbeat immediately, then one every 5 seconds, until
// Stop is called. It never returns on its own.
func (m *Monitor) Run() {
	var cpuWindow [windowBuckets]float64
	var sentWindow, receivedWindow [windowBuckets]uint64
	index := 0

	lastTicks, _ := cpuUsage()
	lastSent := m.sender.SentMessageCount()
	lastReceived := m.sender.ReceivedMessageCount()

	for {
		totalTicks, threads := cpuUsage()
		totalSent := m.sender.SentMessageCount()
		totalReceived := m.sender.ReceivedMessageCount()

		intervalCPUSeconds := float64(totalTicks-lastTicks) / clockTicksPerSecond
		intervalSent := totalSent - lastSent
		intervalReceived := totalReceived - lastReceived
		lastTicks, lastSent, lastReceived = totalTicks, totalSent, totalReceived

		slot := index % windowBuckets
		cpuWindow[slot] = intervalCPUSeconds
		sentWindow[slot] = intervalSent
		receivedWindow[slot] = intervalReceived
		index++

		var windowCPUSeconds float64
		var windowSent, windowReceived uint64
		for i := 0; i < windowBuckets; i++ {
			windowCPUSeconds += cpuWindow[i]
			windowSent += sentWindow[i]
			windowReceived += receivedWindow[i]
		}

		now := time.Now()
		h := &message.ExecutorHeartbeat{
			MemoryRssBytes:            memUsageBytes(),
			ThreadCount:               int32(threads),
			CpuSecondsTotal:           float64(totalTicks) / clockTicksPerSecond,
			CpuSecondsInterval:        intervalCPUSeconds,
			CpuSecondsWindow60S:       windowCPUSeconds,
			MessagesSentTotal:         int64(totalSent),
			MessagesSentInterval:      int64(intervalSent),
			MessagesSentWindow60S:     int64(windowSent),
			MessagesReceivedTotal:     int64(totalReceived),
			MessagesReceivedInterval:  int64(intervalReceived),
			MessagesReceivedWindow60S: int64(windowReceived),
			Hyperthreaded:             m.lim.UsesHyperthreads(),
			WallClockSeconds:          int32(now.Unix()),
			WallClockMicroseconds:     int32(now.Nanosecond() / 1000),
			SessionId:                 append([]byte(nil), m.from.Session[:]...),
			CompId:                    append([]byte(nil), m.from.Computation[:]...),
		}

		env := message.New(h, m.from, "")
		env.To = m.to
		if err := m.sender.Send(env); err != nil {
			logging.Warnw("performance monitor could not send heartbeat", "error", err)
		}
		if m.tap != nil {
			m.tap.Broadcast(h)
		}

		select {
		case <-m.stopCh:
			return
		case <-time.After(m.interval):
		}
	}
}
