package reader

import (
	"context"
	"encoding/binary"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/servinagrero/SRAMPlatform/internal/protocol/sram"
	"github.com/servinagrero/SRAMPlatform/internal/storage"
	"github.com/servinagrero/SRAMPlatform/internal/storage/models"
)

// ReadOnlyRegions is the number of leading SRAM regions assumed to be
// write-protected by the firmware; write-invert never touches them.
const ReadOnlyRegions = 5

// HandleStatus reports the port state and the known devices. It is the one
// command that works with the bus powered off.
func (s *Session) HandleStatus(ctx context.Context) error {
	snap := s.Snapshot()
	s.results.Info("status",
		zap.String("state", snap.State),
		zap.Any("devices", snap.Devices))
	return nil
}

// HandlePowerOn powers the bus back up.
func (s *Session) HandlePowerOn(ctx context.Context) error {
	if err := s.power.On(ctx); err != nil {
		return Errorf("problem powering on port: %v", err)
	}
	s.setState(StateOn)
	s.log.Info("port powered on")
	return nil
}

// HandlePowerOff cuts power to the bus.
func (s *Session) HandlePowerOff(ctx context.Context) error {
	if err := s.power.Off(ctx); err != nil {
		return Errorf("problem powering off port: %v", err)
	}
	s.setState(StateOff)
	s.log.Info("port powered off")
	return nil
}

// HandlePing identifies the devices on the chain and replaces the session
// membership with whatever answered. Frames failing the checksum are dropped
// with a warning; losing every previously known device is a hard failure.
func (s *Session) HandlePing(ctx context.Context) error {
	if err := s.requireOn(); err != nil {
		return err
	}

	prev := s.Devices()

	packets, err := s.exchange(ctx, s.newPacket(sram.PING))
	if err != nil {
		return err
	}

	var devices []Device
	for _, p := range packets {
		if err := p.VerifyChecksum(); err != nil {
			s.metrics.CRCFailures.Inc()
			s.log.Warn("dropping ping reply with bad checksum",
				zap.String("uid", sram.FormatUID(p.UID)),
				zap.Uint8("pic", p.PIC))
			continue
		}
		d := Device{UID: sram.FormatUID(p.UID), PIC: p.PIC, SRAMSize: p.Options}
		// Identity is the (uid, pic) pair; a duplicate reply keeps the
		// first record even if the reported SRAM size disagrees.
		if slices.ContainsFunc(devices, d.Same) {
			continue
		}
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].PIC < devices[j].PIC })

	if len(prev) > 0 && len(devices) == 0 {
		return Errorf("there were devices connected but now no devices could be identified")
	}
	if len(devices) == 0 {
		return Errorf("no devices could be identified")
	}

	s.replaceDevices(devices)
	s.log.Info("devices identified correctly", zap.Int("count", len(devices)))
	s.results.Info("ping", zap.Any("devices", devices))
	return nil
}

// HandleSensors reads the on-die sensors of every known device and persists
// one reading per device. A silent or corrupted reply skips that device.
func (s *Session) HandleSensors(ctx context.Context) error {
	if err := s.requireOn(); err != nil {
		return err
	}
	if err := s.requireDevices(); err != nil {
		return err
	}

	for _, dev := range s.Devices() {
		p := s.newPacket(sram.SENSORS)
		p.UID = dev.UID

		res, err := s.exchangeOne(ctx, p)
		if err != nil || res == nil {
			s.log.Error("problem reading sensors",
				zap.String("uid", dev.UID), zap.Error(err))
			continue
		}

		sensors, err := res.ExtractSensors()
		if err != nil {
			s.log.Warn("invalid sensor payload",
				zap.String("uid", dev.UID), zap.Error(err))
			continue
		}

		record := &models.Sensor{
			BoardID:     s.opts.BoardType,
			UID:         sram.FormatUID(res.UID),
			Temperature: sensors.Temperature,
			Voltage:     sensors.Voltage,
		}
		if err := s.repo.InsertSensor(ctx, record); err != nil {
			return err
		}
	}

	s.log.Info("sensors read correctly")
	return nil
}

// HandleRead sweeps the whole SRAM of every known device, one region per
// packet, and persists the samples. Each device's sweep commits as a unit;
// a bad or missing reply skips that region only.
func (s *Session) HandleRead(ctx context.Context) error {
	if err := s.requireOn(); err != nil {
		return err
	}
	if err := s.requireDevices(); err != nil {
		return err
	}

	// Group the whole sweep under a single timestamp at noon so one day
	// of captures reads back as one dataset.
	now := time.Now()
	capturedAt := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, now.Location())

	for _, dev := range s.Devices() {
		err := s.repo.WithTx(ctx, func(tx storage.Repo) error {
			for offset := 0; offset < dev.Regions(s.opts.DataSize); offset++ {
				address, err := sram.OffsetToAddress(s.opts.DataSize, offset)
				if err != nil {
					return err
				}

				p := s.newPacket(sram.READ)
				p.UID = dev.UID
				p.Options = uint32(offset)

				res, err := s.exchangeOne(ctx, p)
				if err != nil || res == nil {
					s.log.Warn("problem reading memory region",
						zap.String("uid", dev.UID),
						zap.String("address", address),
						zap.Error(err))
					continue
				}

				sample := &models.Sample{
					BoardID:   s.opts.BoardType,
					UID:       sram.FormatUID(res.UID),
					PIC:       int32(dev.PIC),
					Address:   address,
					Data:      joinBytes(res.Data),
					CreatedAt: capturedAt,
				}
				if err := tx.InsertSample(ctx, sample); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	s.log.Info("memory read correctly")
	return nil
}

// HandleWrite writes one region of caller-supplied data to a device. The
// upper offset bound is inclusive, matching the deployed chains.
func (s *Session) HandleWrite(ctx context.Context, uid string, offset int, data []byte) error {
	if err := s.requireOn(); err != nil {
		return err
	}
	if err := s.requireDevices(); err != nil {
		return err
	}

	dev, err := s.lookupDevice(uid)
	if err != nil {
		return err
	}

	maxOffset := dev.Regions(s.opts.DataSize)
	if offset < 0 || offset > maxOffset {
		return Errorf("offset %d for device %s must be in range [0, %d]", offset, uid, maxOffset)
	}
	if len(data) > s.opts.DataSize {
		return Errorf("data of %d bytes exceeds payload capacity %d", len(data), s.opts.DataSize)
	}

	p := s.newPacket(sram.WRITE)
	p.UID = dev.UID
	p.Options = uint32(offset)
	p.Data = make([]byte, s.opts.DataSize)
	copy(p.Data, data)

	res, err := s.exchangeOne(ctx, p)
	if err != nil {
		return err
	}
	if res == nil {
		return Errorf("no acknowledgement writing to device %s", uid)
	}

	s.log.Info("data written correctly",
		zap.String("uid", uid), zap.Int("offset", offset))
	return nil
}

// HandleWriteInvert is the regression sweep: for the first half of the chain
// it re-writes every previously sampled writable region with its bytes
// inverted. A device without a complete stored sweep is skipped with a
// warning.
func (s *Session) HandleWriteInvert(ctx context.Context) error {
	if err := s.requireOn(); err != nil {
		return err
	}
	if err := s.requireDevices(); err != nil {
		return err
	}

	devices := s.Devices()
	for _, dev := range devices[:len(devices)/2] {
		regions := dev.Regions(s.opts.DataSize)

		samples, err := s.repo.SamplesForDevice(ctx, s.opts.BoardType, dev.UID, regions)
		if err != nil {
			return err
		}
		if len(samples) != regions {
			s.log.Warn("device does not have a complete stored sweep",
				zap.String("uid", dev.UID),
				zap.Int("samples", len(samples)),
				zap.Int("regions", regions))
			continue
		}

		for offset := ReadOnlyRegions; offset < regions-ReadOnlyRegions; offset++ {
			data, err := splitBytes(samples[offset].Data)
			if err != nil {
				s.log.Warn("corrupted stored sample",
					zap.String("uid", dev.UID),
					zap.String("address", samples[offset].Address),
					zap.Error(err))
				break
			}
			for i := range data {
				data[i] ^= 0xFF
			}

			p := s.newPacket(sram.WRITE)
			p.UID = dev.UID
			p.Options = uint32(offset)
			p.Data = data
			p.Craft()
			wire, err := p.ToBytes()
			if err != nil {
				return err
			}
			if err := s.ch.Send(wire); err != nil {
				return err
			}
			s.metrics.BytesSent.Add(float64(len(wire)))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.WriteDelay):
			}
		}
	}

	s.log.Info("data inverted correctly")
	return nil
}

// HandleLoad packs source code into one payload and loads it on a device.
func (s *Session) HandleLoad(ctx context.Context, uid, source string) error {
	if err := s.requireOn(); err != nil {
		return err
	}
	if err := s.requireDevices(); err != nil {
		return err
	}

	dev, err := s.lookupDevice(uid)
	if err != nil {
		return err
	}
	if len(source) > s.opts.DataSize {
		return Errorf("source of %d bytes exceeds payload capacity %d", len(source), s.opts.DataSize)
	}

	p := s.newPacket(sram.LOAD)
	p.UID = dev.UID
	p.Data = make([]byte, s.opts.DataSize)
	copy(p.Data, source)

	res, err := s.exchangeOne(ctx, p)
	if err != nil {
		return err
	}
	if res == nil {
		return Errorf("problem loading code for device %s", uid)
	}

	s.log.Info("code loaded correctly", zap.String("uid", uid))
	return nil
}

// HandleExec runs previously loaded code on a device. Options carries the
// reset flag; a reply with nonzero options is an error reported by the
// device itself, not a transport failure.
func (s *Session) HandleExec(ctx context.Context, uid string, reset bool) error {
	if err := s.requireOn(); err != nil {
		return err
	}
	if err := s.requireDevices(); err != nil {
		return err
	}

	dev, err := s.lookupDevice(uid)
	if err != nil {
		return err
	}

	p := s.newPacket(sram.EXEC)
	p.UID = dev.UID
	if reset {
		p.Options = 1
	}

	res, err := s.exchangeOne(ctx, p)
	if err != nil {
		return err
	}
	if res == nil {
		return Errorf("problem executing code on device %s", uid)
	}
	if res.Options != 0 {
		return Errorf("code on device %s executed with error code %d", uid, res.Options)
	}

	s.log.Info("code executed correctly", zap.String("uid", uid))
	return nil
}

// HandleRetr retrieves the output of executed code: the payload reinterpreted
// as little-endian 32-bit integers, plus a text rendering where the literal
// substrings "10" and "32" of each decimal value become newline and space.
// The substring replacement reproduces the deployed behavior exactly and is
// kept as-is.
func (s *Session) HandleRetr(ctx context.Context, uid string) error {
	if err := s.requireOn(); err != nil {
		return err
	}
	if err := s.requireDevices(); err != nil {
		return err
	}

	dev, err := s.lookupDevice(uid)
	if err != nil {
		return err
	}

	p := s.newPacket(sram.RETR)
	p.UID = dev.UID

	res, err := s.exchangeOne(ctx, p)
	if err != nil {
		return err
	}
	if res == nil {
		return Errorf("problem retrieving results from device %s", uid)
	}

	numbers := make([]int32, len(res.Data)/4)
	for i := range numbers {
		numbers[i] = int32(binary.LittleEndian.Uint32(res.Data[i*4 : i*4+4]))
	}

	var text strings.Builder
	for _, n := range numbers {
		repr := strconv.FormatInt(int64(n), 10)
		repr = strings.ReplaceAll(repr, "10", "\n")
		repr = strings.ReplaceAll(repr, "32", " ")
		text.WriteString(repr)
	}

	s.log.Info("results retrieved correctly", zap.String("uid", uid))
	s.results.Info("retr",
		zap.String("uid", uid),
		zap.Int32s("int", numbers),
		zap.String("string", text.String()))
	return nil
}

// joinBytes renders payload bytes as comma separated decimal values, the
// format memory samples are stored in.
func joinBytes(data []byte) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(v)))
	}
	return b.String()
}

// splitBytes parses the stored comma separated form back into bytes.
func splitBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	data := make([]byte, len(parts))
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		data[i] = byte(v)
	}
	return data, nil
}
