// Package dispatch consumes command requests from the intake queue and maps
// them onto session handlers through a closed command table.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/servinagrero/SRAMPlatform/internal/metrics"
	"github.com/servinagrero/SRAMPlatform/internal/reader"
)

// Session is the slice of the device chain session the dispatcher drives.
type Session interface {
	HandleStatus(ctx context.Context) error
	HandlePowerOn(ctx context.Context) error
	HandlePowerOff(ctx context.Context) error
	HandlePing(ctx context.Context) error
	HandleSensors(ctx context.Context) error
	HandleRead(ctx context.Context) error
	HandleWrite(ctx context.Context, uid string, offset int, data []byte) error
	HandleWriteInvert(ctx context.Context) error
	HandleLoad(ctx context.Context, uid, source string) error
	HandleExec(ctx context.Context, uid string, reset bool) error
	HandleRetr(ctx context.Context, uid string) error
}

// Source yields raw requests from the intake queue.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Handler executes one command request.
type Handler func(ctx context.Context, req Request) error

// Dispatcher runs commands strictly one at a time. Every invocation is
// wrapped in a deadline so a stuck exchange cannot wedge the station; the
// next command's send tolerates a transport abandoned mid-frame by flushing
// input first.
type Dispatcher struct {
	source   Source
	handlers map[string]Handler
	timeout  time.Duration
	limiter  *rate.Limiter
	metrics  *metrics.AppMetrics
	log      *zap.Logger
}

// Config for a Dispatcher.
type Config struct {
	// HandlerTimeout bounds one command invocation.
	HandlerTimeout time.Duration
	// CommandsPerSecond paces intake.
	CommandsPerSecond float64
}

// New builds the dispatcher with the full command table.
func New(cfg Config, source Source, session Session, m *metrics.AppMetrics, log *zap.Logger) *Dispatcher {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 5 * time.Minute
	}
	if cfg.CommandsPerSecond <= 0 {
		cfg.CommandsPerSecond = 2
	}

	handlers := map[string]Handler{
		CmdStatus:      func(ctx context.Context, _ Request) error { return session.HandleStatus(ctx) },
		CmdPowerOn:     func(ctx context.Context, _ Request) error { return session.HandlePowerOn(ctx) },
		CmdPowerOff:    func(ctx context.Context, _ Request) error { return session.HandlePowerOff(ctx) },
		CmdPing:        func(ctx context.Context, _ Request) error { return session.HandlePing(ctx) },
		CmdSensors:     func(ctx context.Context, _ Request) error { return session.HandleSensors(ctx) },
		CmdRead:        func(ctx context.Context, _ Request) error { return session.HandleRead(ctx) },
		CmdWriteInvert: func(ctx context.Context, _ Request) error { return session.HandleWriteInvert(ctx) },
		CmdWrite: func(ctx context.Context, req Request) error {
			return session.HandleWrite(ctx, req.Device, req.Offset, req.Data)
		},
		CmdLoad: func(ctx context.Context, req Request) error {
			return session.HandleLoad(ctx, req.Device, req.Source)
		},
		CmdExec: func(ctx context.Context, req Request) error {
			return session.HandleExec(ctx, req.Device, req.Reset)
		},
		CmdRetr: func(ctx context.Context, req Request) error {
			return session.HandleRetr(ctx, req.Device)
		},
	}

	return &Dispatcher{
		source:   source,
		handlers: handlers,
		timeout:  cfg.HandlerTimeout,
		limiter:  rate.NewLimiter(rate.Limit(cfg.CommandsPerSecond), 1),
		metrics:  m,
		log:      log,
	}
}

// Dispatch executes one request under the handler deadline and returns its
// error, if any. Callers deciding how to report it use errors.As to tell
// command errors from unexpected ones.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	handler, ok := d.handlers[req.Command]
	if !ok {
		return reader.Errorf("unknown command %q", req.Command)
	}

	hctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := handler(hctx, req)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("command %s timed out after %s: %w", req.Command, d.timeout, err)
	}
	return err
}

// Run consumes the queue until ctx is cancelled. Command failures are logged
// and never crash the loop; only queue transport failures terminate it.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}

		d.metrics.QueueWaitTotal.Inc()
		raw, err := d.source.Pop(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Error("command queue error", zap.Error(err))
			continue
		}
		if raw == nil {
			continue
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			d.log.Warn("discarding malformed request", zap.Error(err))
			continue
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		log := d.log.With(zap.String("id", req.ID), zap.String("command", req.Command))
		log.Debug("handler called")

		err = d.Dispatch(ctx, req)
		switch {
		case err == nil:
			d.metrics.CommandsTotal.WithLabelValues(req.Command, "ok").Inc()
			log.Debug("handler executed correctly")
		default:
			d.metrics.CommandsTotal.WithLabelValues(req.Command, "error").Inc()
			var cmdErr *reader.CommandError
			if errors.As(err, &cmdErr) {
				log.Warn("handler executed with errors", zap.Error(err))
			} else {
				log.Error("error while executing handler", zap.Error(err))
			}
		}
	}
}
