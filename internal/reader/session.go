package reader

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/servinagrero/SRAMPlatform/internal/metrics"
	"github.com/servinagrero/SRAMPlatform/internal/protocol/sram"
	"github.com/servinagrero/SRAMPlatform/internal/storage"
	"github.com/servinagrero/SRAMPlatform/internal/transport"
)

// Port power states.
const (
	StateOn  = "ON"
	StateOff = "OFF"
)

// PowerSwitch toggles the supply of the bus. Implementations shell out to
// the USB hub control binary; the session only cares about success.
type PowerSwitch interface {
	On(ctx context.Context) error
	Off(ctx context.Context) error
}

// Options configures a session.
type Options struct {
	// BoardType of the attached chain, recorded with every sample.
	BoardType string
	// DataSize is the per-packet payload size.
	DataSize int
	// WriteDelay is slept between consecutive write-invert frames.
	WriteDelay time.Duration
}

// Session owns the transport to one device chain and executes commands
// against it. Commands run strictly one at a time: the dispatcher is the
// single writer, while the HTTP status view reads concurrently, so the
// device list and power state sit behind a read/write lock.
type Session struct {
	opts    Options
	ch      transport.Channel
	rx      *transport.Receiver
	repo    storage.Repo
	power   PowerSwitch
	metrics *metrics.AppMetrics
	log     *zap.Logger
	results *zap.Logger

	mu      sync.RWMutex
	devices []Device
	state   string
}

// NewSession wires a session over an open channel. The receiver must wrap
// the same channel.
func NewSession(opts Options, ch transport.Channel, rx *transport.Receiver, repo storage.Repo, power PowerSwitch, m *metrics.AppMetrics, log *zap.Logger, results *zap.Logger) *Session {
	return &Session{
		opts:    opts,
		ch:      ch,
		rx:      rx,
		repo:    repo,
		power:   power,
		metrics: m,
		log:     log,
		results: results,
		state:   StateOn,
	}
}

// Status is the externally visible session state.
type Status struct {
	State   string   `json:"state"`
	Devices []Device `json:"devices"`
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	devices := make([]Device, len(s.devices))
	copy(devices, s.devices)
	return Status{State: s.state, Devices: devices}
}

// Devices returns a copy of the currently known devices.
func (s *Session) Devices() []Device {
	return s.Snapshot().Devices
}

// requireOn rejects protocol commands while the bus is powered off.
func (s *Session) requireOn() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateOn {
		return Errorf("port is powered off")
	}
	return nil
}

// requireDevices rejects commands that need an identified chain.
func (s *Session) requireDevices() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.devices) == 0 {
		return Errorf("no devices managed")
	}
	return nil
}

// lookupDevice resolves a device by uid.
func (s *Session) lookupDevice(uid string) (Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.devices {
		if d.UID == uid {
			return d, nil
		}
	}
	return Device{}, Errorf("device %s is not managed", uid)
}

// replaceDevices swaps the device list atomically. Membership is always a
// full replace, never a merge: the chain is whatever the last ping saw.
func (s *Session) replaceDevices(devices []Device) {
	s.mu.Lock()
	s.devices = devices
	s.mu.Unlock()
	s.metrics.DevicesGauge.Set(float64(len(devices)))
}

func (s *Session) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// newPacket returns a packet with session defaults applied.
func (s *Session) newPacket(cmd sram.Command) *sram.Packet {
	p := sram.New(s.opts.DataSize)
	p.Command = cmd
	return p
}

// exchange crafts and sends one packet, then drains the reply burst.
func (s *Session) exchange(ctx context.Context, p *sram.Packet) ([]*sram.Packet, error) {
	p.Craft()
	wire, err := p.ToBytes()
	if err != nil {
		return nil, err
	}
	if err := s.ch.Send(wire); err != nil {
		return nil, err
	}
	s.metrics.BytesSent.Add(float64(len(wire)))

	packets, err := s.rx.Receive(ctx)
	if len(packets) > 0 {
		s.metrics.FramesDecoded.Add(float64(len(packets)))
		s.metrics.BytesReceived.Add(float64(len(packets) * sram.PacketSize(s.opts.DataSize)))
	}
	return packets, err
}

// exchangeOne performs a unicast exchange and returns the first reply, or
// nil when the chain stayed silent. The bus can echo extra frames on a
// unicast exchange; only the first is consulted and the rest are discarded.
func (s *Session) exchangeOne(ctx context.Context, p *sram.Packet) (*sram.Packet, error) {
	packets, err := s.exchange(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(packets) == 0 {
		return nil, nil
	}

	res := packets[0]
	if err := res.VerifyChecksum(); err != nil {
		s.metrics.CRCFailures.Inc()
		return nil, err
	}
	if res.Command == sram.ERR {
		return nil, Errorf("device replied with protocol error %d", res.Options)
	}
	return res, nil
}
