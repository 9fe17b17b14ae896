package reader

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/servinagrero/SRAMPlatform/internal/metrics"
	"github.com/servinagrero/SRAMPlatform/internal/protocol/sram"
	"github.com/servinagrero/SRAMPlatform/internal/storage"
	"github.com/servinagrero/SRAMPlatform/internal/storage/models"
	"github.com/servinagrero/SRAMPlatform/internal/transport"
)

const testDataSize = 16

// fakeChannel answers every sent packet through a scripted respond func.
type fakeChannel struct {
	t       *testing.T
	respond func(req *sram.Packet) [][]byte
	pending []byte
	sent    []*sram.Packet
}

func (c *fakeChannel) Send(w []byte) error {
	req, err := sram.Decode(testDataSize, w)
	require.NoError(c.t, err)
	c.sent = append(c.sent, req)
	c.pending = c.pending[:0]
	if c.respond != nil {
		for _, burst := range c.respond(req) {
			c.pending = append(c.pending, burst...)
		}
	}
	return nil
}

func (c *fakeChannel) Available() (int, error) { return len(c.pending), nil }

func (c *fakeChannel) Read(p []byte) (int, error) {
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *fakeChannel) Close() error { return nil }

// sentCommands returns the opcodes sent so far.
func (c *fakeChannel) sentCommands() []sram.Command {
	var cmds []sram.Command
	for _, p := range c.sent {
		cmds = append(cmds, p.Command)
	}
	return cmds
}

// fakeRepo keeps samples and sensors in memory.
type fakeRepo struct {
	samples []models.Sample
	sensors []models.Sensor
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(storage.Repo) error) error {
	return fn(r)
}

func (r *fakeRepo) InsertSample(ctx context.Context, sample *models.Sample) error {
	r.samples = append(r.samples, *sample)
	return nil
}

func (r *fakeRepo) InsertSensor(ctx context.Context, sensor *models.Sensor) error {
	r.sensors = append(r.sensors, *sensor)
	return nil
}

func (r *fakeRepo) SamplesForDevice(ctx context.Context, boardID, uid string, limit int) ([]models.Sample, error) {
	var out []models.Sample
	for _, s := range r.samples {
		if s.BoardID == boardID && s.UID == uid {
			out = append(out, s)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakePower struct {
	on, off int
	err     error
}

func (p *fakePower) On(ctx context.Context) error {
	p.on++
	return p.err
}

func (p *fakePower) Off(ctx context.Context) error {
	p.off++
	return p.err
}

func newTestSession(t *testing.T, respond func(*sram.Packet) [][]byte) (*Session, *fakeChannel, *fakeRepo, *fakePower) {
	t.Helper()
	ch := &fakeChannel{t: t, respond: respond}
	rx := transport.NewReceiver(ch, transport.ReceiverConfig{
		DataSize: testDataSize,
		Settle:   time.Millisecond,
		Interval: time.Millisecond,
		Tries:    6,
	})
	repo := &fakeRepo{}
	power := &fakePower{}
	m := metrics.NewAppMetrics(metrics.NewRegistry())
	log := zap.NewNop()

	s := NewSession(Options{
		BoardType:  "STM32L152RE",
		DataSize:   testDataSize,
		WriteDelay: time.Millisecond,
	}, ch, rx, repo, power, m, log, log)
	return s, ch, repo, power
}

// reply builds a crafted wire frame answering req.
func reply(t *testing.T, req *sram.Packet, mutate func(*sram.Packet)) []byte {
	t.Helper()
	p := sram.New(testDataSize)
	p.Command = sram.ACK
	p.PIC = req.PIC
	p.UID = req.UID
	p.Options = req.Options
	if mutate != nil {
		mutate(p)
	}
	p.Craft()
	wire, err := p.ToBytes()
	require.NoError(t, err)
	return append([]byte(nil), wire...)
}

func pingReply(t *testing.T, uid string, pic uint8, sramSize uint32) []byte {
	t.Helper()
	p := sram.New(testDataSize)
	p.Command = sram.ACK
	p.PIC = pic
	p.UID = uid
	p.Options = sramSize
	p.Craft()
	wire, err := p.ToBytes()
	require.NoError(t, err)
	return append([]byte(nil), wire...)
}

func corrupt(frame []byte) []byte {
	out := append([]byte(nil), frame...)
	out[0] ^= 0x01
	return out
}

func TestHandlePing_ReplacesDevices(t *testing.T) {
	ctx := context.Background()

	chain := [][]byte{
		pingReply(t, "AAAA", 1, 4*testDataSize),
		pingReply(t, "BBBB", 2, 4*testDataSize),
	}
	s, _, _, _ := newTestSession(t, func(req *sram.Packet) [][]byte {
		return chain
	})

	require.NoError(t, s.HandlePing(ctx))
	require.Len(t, s.Devices(), 2)
	assert.Equal(t, "AAAA", s.Devices()[0].UID)

	// A second cycle with a disjoint chain fully replaces the membership.
	chain = [][]byte{pingReply(t, "CCCC", 1, 4*testDataSize)}
	require.NoError(t, s.HandlePing(ctx))

	devices := s.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "CCCC", devices[0].UID)
}

func TestHandlePing_DedupsByIdentity(t *testing.T) {
	ctx := context.Background()

	// Two valid replies agree on (uid, pic) but disagree on the SRAM
	// size; identity is the pair, so only the first record enters.
	s, _, _, _ := newTestSession(t, func(req *sram.Packet) [][]byte {
		return [][]byte{
			pingReply(t, "AAAA", 1, 4*testDataSize),
			pingReply(t, "AAAA", 1, 8*testDataSize),
		}
	})

	require.NoError(t, s.HandlePing(ctx))
	devices := s.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "AAAA", devices[0].UID)
	assert.Equal(t, uint32(4*testDataSize), devices[0].SRAMSize)
}

func TestHandlePing_DropsCorruptFrames(t *testing.T) {
	ctx := context.Background()

	s, _, _, _ := newTestSession(t, func(req *sram.Packet) [][]byte {
		return [][]byte{
			corrupt(pingReply(t, "AAAA", 1, 4*testDataSize)),
			pingReply(t, "BBBB", 2, 4*testDataSize),
		}
	})

	require.NoError(t, s.HandlePing(ctx))
	devices := s.Devices()
	require.Len(t, devices, 1)
	assert.Equal(t, "BBBB", devices[0].UID)
}

func TestHandlePing_NoRepliesAfterDevices(t *testing.T) {
	ctx := context.Background()

	s, ch, _, _ := newTestSession(t, func(req *sram.Packet) [][]byte {
		return [][]byte{pingReply(t, "AAAA", 1, 4*testDataSize)}
	})
	require.NoError(t, s.HandlePing(ctx))

	ch.respond = nil
	err := s.HandlePing(ctx)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	// The stale membership survives a failed ping.
	require.Len(t, s.Devices(), 1)
}

func TestPoweredOffRejectsCommands(t *testing.T) {
	ctx := context.Background()
	s, _, _, power := newTestSession(t, nil)

	require.NoError(t, s.HandlePowerOff(ctx))
	assert.Equal(t, 1, power.off)
	assert.Equal(t, StateOff, s.Snapshot().State)

	var cmdErr *CommandError
	require.ErrorAs(t, s.HandlePing(ctx), &cmdErr)
	// Status still answers with the bus off.
	require.NoError(t, s.HandleStatus(ctx))

	require.NoError(t, s.HandlePowerOn(ctx))
	assert.Equal(t, StateOn, s.Snapshot().State)
}

func TestHandlePowerOff_SwitchFailure(t *testing.T) {
	ctx := context.Background()
	s, _, _, power := newTestSession(t, nil)
	power.err = fmt.Errorf("hub not found")

	var cmdErr *CommandError
	require.ErrorAs(t, s.HandlePowerOff(ctx), &cmdErr)
	// State is untouched on failure.
	assert.Equal(t, StateOn, s.Snapshot().State)
}

func TestHandleWrite_OffsetBounds(t *testing.T) {
	ctx := context.Background()

	s, _, _, _ := newTestSession(t, func(req *sram.Packet) [][]byte {
		return [][]byte{reply(t, req, nil)}
	})
	s.replaceDevices([]Device{{UID: "AAAA", PIC: 1, SRAMSize: 4 * testDataSize}})

	// The upper bound is inclusive.
	require.NoError(t, s.HandleWrite(ctx, "AAAA", 4, []byte{1, 2, 3}))

	err := s.HandleWrite(ctx, "AAAA", 5, []byte{1, 2, 3})
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, err.Error(), "range")

	require.ErrorAs(t, s.HandleWrite(ctx, "AAAA", -1, nil), &cmdErr)
	require.ErrorAs(t, s.HandleWrite(ctx, "ZZZZ", 0, nil), &cmdErr)
}

func TestHandleWrite_NoAck(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestSession(t, nil)
	s.replaceDevices([]Device{{UID: "AAAA", PIC: 1, SRAMSize: 4 * testDataSize}})

	var cmdErr *CommandError
	require.ErrorAs(t, s.HandleWrite(ctx, "AAAA", 0, []byte{1}), &cmdErr)
}

func TestHandleRead_SweepPersistsSamples(t *testing.T) {
	ctx := context.Background()

	s, _, repo, _ := newTestSession(t, func(req *sram.Packet) [][]byte {
		return [][]byte{reply(t, req, func(p *sram.Packet) {
			for i := range p.Data {
				p.Data[i] = byte(req.Options)
			}
		})}
	})
	s.replaceDevices([]Device{{UID: "AAAA", PIC: 1, SRAMSize: 2 * testDataSize}})

	require.NoError(t, s.HandleRead(ctx))
	require.Len(t, repo.samples, 2)

	assert.Equal(t, "0x20000000", repo.samples[0].Address)
	assert.Equal(t, "0x20000010", repo.samples[1].Address)
	assert.Equal(t, "AAAA", repo.samples[0].UID)
	assert.Equal(t, int32(1), repo.samples[0].PIC)
	assert.Equal(t, joinBytes(make([]byte, testDataSize)), repo.samples[0].Data)
	// Captures are grouped at noon.
	assert.Equal(t, 12, repo.samples[0].CreatedAt.Hour())
}

func TestHandleRead_SkipsCorruptRegion(t *testing.T) {
	ctx := context.Background()

	s, _, repo, _ := newTestSession(t, func(req *sram.Packet) [][]byte {
		frame := reply(t, req, nil)
		if req.Options == 0 {
			frame = corrupt(frame)
		}
		return [][]byte{frame}
	})
	s.replaceDevices([]Device{{UID: "AAAA", PIC: 1, SRAMSize: 2 * testDataSize}})

	require.NoError(t, s.HandleRead(ctx))
	require.Len(t, repo.samples, 1)
	assert.Equal(t, "0x20000010", repo.samples[0].Address)
}

func TestHandleSensors(t *testing.T) {
	ctx := context.Background()

	s, _, repo, _ := newTestSession(t, func(req *sram.Packet) [][]byte {
		return [][]byte{reply(t, req, func(p *sram.Packet) {
			// cal110=110 cal30=30 raw=70 vddCal=1200 vddRaw=1200
			payload := []uint16{110, 30, 70, 1200, 1200}
			for i, v := range payload {
				p.Data[i*2] = byte(v)
				p.Data[i*2+1] = byte(v >> 8)
			}
		})}
	})
	s.replaceDevices([]Device{{UID: "AAAA", PIC: 1, SRAMSize: 4 * testDataSize}})

	require.NoError(t, s.HandleSensors(ctx))
	require.Len(t, repo.sensors, 1)
	assert.InDelta(t, 70.0, repo.sensors[0].Temperature, 1e-9)
	assert.InDelta(t, 3.3, repo.sensors[0].Voltage, 1e-9)
}

func TestHandleLoad(t *testing.T) {
	ctx := context.Background()

	s, ch, _, _ := newTestSession(t, func(req *sram.Packet) [][]byte {
		return [][]byte{reply(t, req, nil)}
	})
	s.replaceDevices([]Device{{UID: "AAAA", PIC: 1, SRAMSize: 4 * testDataSize}})

	require.NoError(t, s.HandleLoad(ctx, "AAAA", ": star 42 emit ;"))
	sent := ch.sent[len(ch.sent)-1]
	assert.Equal(t, sram.LOAD, sent.Command)
	assert.Equal(t, byte(':'), sent.Data[0])

	var cmdErr *CommandError
	long := make([]byte, testDataSize+1)
	require.ErrorAs(t, s.HandleLoad(ctx, "AAAA", string(long)), &cmdErr)
}

func TestHandleExec(t *testing.T) {
	ctx := context.Background()

	var execErrCode uint32
	s, ch, _, _ := newTestSession(t, func(req *sram.Packet) [][]byte {
		return [][]byte{reply(t, req, func(p *sram.Packet) {
			p.Options = execErrCode
		})}
	})
	s.replaceDevices([]Device{{UID: "AAAA", PIC: 1, SRAMSize: 4 * testDataSize}})

	require.NoError(t, s.HandleExec(ctx, "AAAA", true))
	assert.Equal(t, uint32(1), ch.sent[len(ch.sent)-1].Options)

	execErrCode = 7
	err := s.HandleExec(ctx, "AAAA", false)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, err.Error(), "error code 7")
}

func TestHandleRetr_TextRendering(t *testing.T) {
	ctx := context.Background()

	s, _, _, _ := newTestSession(t, func(req *sram.Packet) [][]byte {
		return [][]byte{reply(t, req, func(p *sram.Packet) {
			ints := []int32{1, 10, 32, 1032}
			for i, v := range ints {
				p.Data[i*4] = byte(v)
				p.Data[i*4+1] = byte(v >> 8)
				p.Data[i*4+2] = byte(v >> 16)
				p.Data[i*4+3] = byte(v >> 24)
			}
		})}
	})
	core, logs := observer.New(zap.InfoLevel)
	s.results = zap.New(core)
	s.replaceDevices([]Device{{UID: "AAAA", PIC: 1, SRAMSize: 4 * testDataSize}})

	require.NoError(t, s.HandleRetr(ctx, "AAAA"))

	entries := logs.FilterMessage("retr").All()
	require.Len(t, entries, 1)
	// Every decimal substring "10" renders as newline and "32" as space,
	// including both inside a longer value like 1032.
	assert.Equal(t, "1\n \n ", entries[0].ContextMap()["string"])
}

func TestHandleWriteInvert(t *testing.T) {
	ctx := context.Background()

	s, ch, repo, _ := newTestSession(t, nil)
	devices := []Device{
		{UID: "AAAA", PIC: 1, SRAMSize: 16 * testDataSize},
		{UID: "BBBB", PIC: 2, SRAMSize: 16 * testDataSize},
	}
	s.replaceDevices(devices)

	// Seed a complete sweep for the first device.
	pattern := make([]byte, testDataSize)
	for i := range pattern {
		pattern[i] = 0xA5
	}
	for offset := 0; offset < 16; offset++ {
		addr, err := sram.OffsetToAddress(testDataSize, offset)
		require.NoError(t, err)
		repo.samples = append(repo.samples, models.Sample{
			BoardID: "STM32L152RE",
			UID:     "AAAA",
			PIC:     1,
			Address: addr,
			Data:    joinBytes(pattern),
		})
	}

	require.NoError(t, s.HandleWriteInvert(ctx))

	// Only the writable window of the first half of the chain is written:
	// offsets [5, 11) of device AAAA.
	require.Len(t, ch.sent, 6)
	for i, p := range ch.sent {
		assert.Equal(t, sram.WRITE, p.Command)
		assert.Equal(t, "AAAA", sram.FormatUID(p.UID))
		assert.Equal(t, uint32(ReadOnlyRegions+i), p.Options)
		assert.Equal(t, byte(0xA5^0xFF), p.Data[0])
	}
}

func TestHandleWriteInvert_IncompleteSweepSkipped(t *testing.T) {
	ctx := context.Background()

	s, ch, _, _ := newTestSession(t, nil)
	s.replaceDevices([]Device{
		{UID: "AAAA", PIC: 1, SRAMSize: 16 * testDataSize},
		{UID: "BBBB", PIC: 2, SRAMSize: 16 * testDataSize},
	})

	require.NoError(t, s.HandleWriteInvert(ctx))
	assert.Empty(t, ch.sent)
}

func TestRequireDevices(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestSession(t, nil)

	var cmdErr *CommandError
	require.ErrorAs(t, s.HandleSensors(ctx), &cmdErr)
	require.ErrorAs(t, s.HandleRead(ctx), &cmdErr)
	require.ErrorAs(t, s.HandleWriteInvert(ctx), &cmdErr)
	require.ErrorAs(t, s.HandleRetr(ctx, "AAAA"), &cmdErr)
}
