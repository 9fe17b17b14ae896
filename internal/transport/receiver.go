package transport

import (
	"context"
	"time"

	"github.com/servinagrero/SRAMPlatform/internal/protocol/sram"
)

// ReceiverConfig tunes the frame reassembly loop.
type ReceiverConfig struct {
	// DataSize is the payload size of one frame; together with the
	// protocol header it fixes the frame length on the wire.
	DataSize int
	// Settle is slept once before the first poll so the head of the
	// reply burst has time to arrive.
	Settle time.Duration
	// Interval is slept between polls.
	Interval time.Duration
	// Tries bounds the number of polls. Half of it doubles as the length
	// of the quiescence streak required for an early return.
	Tries int
}

func (c *ReceiverConfig) defaults() {
	if c.Settle <= 0 {
		c.Settle = 100 * time.Millisecond
	}
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.Tries <= 0 {
		c.Tries = 20
	}
}

// Receiver drains a channel into fixed-size frames and decides when a reply
// burst has ended.
//
// The link has no end-of-transmission signal and a broadcast may be answered
// by zero, one or many devices, so completion is inferred from byte
// availability alone: once half the try budget in a row has sampled zero
// buffered bytes after at least one frame was decoded, the far end is taken
// to be done. A single empty sample is not enough; a device still streaming
// can leave short gaps between buffer fills.
type Receiver struct {
	ch  Channel
	cfg ReceiverConfig

	sleep func(ctx context.Context, d time.Duration) error
}

// NewReceiver wraps ch with the reassembly loop.
func NewReceiver(ch Channel, cfg ReceiverConfig) *Receiver {
	cfg.defaults()
	return &Receiver{ch: ch, cfg: cfg, sleep: sleepCtx}
}

// Receive collects every frame of the current reply burst.
//
// Zero frames is a legitimate outcome and yields an empty slice, not an
// error. A frame that fails to decode aborts immediately: this only happens
// when the byte accounting has been violated and nothing downstream can be
// trusted. Leftover bytes short of a frame boundary are never decoded.
func (r *Receiver) Receive(ctx context.Context) ([]*sram.Packet, error) {
	frameSize := sram.PacketSize(r.cfg.DataSize)

	histCap := r.cfg.Tries / 2
	if histCap < 1 {
		histCap = 1
	}
	// Rolling history of availability samples, most recent first.
	history := make([]int, 0, histCap)

	var packets []*sram.Packet
	frame := make([]byte, 0, frameSize)

	if err := r.sleep(ctx, r.cfg.Settle); err != nil {
		return packets, err
	}

	for try := 0; try < r.cfg.Tries; try++ {
		if err := ctx.Err(); err != nil {
			return packets, err
		}

		avail, err := r.ch.Available()
		if err != nil {
			return packets, err
		}
		if len(history) < histCap {
			history = append(history, 0)
		}
		copy(history[1:], history)
		history[0] = avail

		for avail > 0 {
			need := frameSize - len(frame)
			if need > avail {
				need = avail
			}
			buf := make([]byte, need)
			n, err := r.ch.Read(buf)
			if err != nil {
				return packets, err
			}
			frame = append(frame, buf[:n]...)

			if len(frame) == frameSize {
				p, err := sram.Decode(r.cfg.DataSize, frame)
				if err != nil {
					return packets, err
				}
				packets = append(packets, p)
				frame = frame[:0]
			}
			avail, err = r.ch.Available()
			if err != nil {
				return packets, err
			}
		}

		if len(history) == histCap && allZero(history) && len(packets) > 0 {
			return packets, nil
		}

		if err := r.sleep(ctx, r.cfg.Interval); err != nil {
			return packets, err
		}
	}

	return packets, nil
}

func allZero(samples []int) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
