// Package power drives the USB switchable hub that feeds the device chain.
package power

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/servinagrero/SRAMPlatform/internal/config"
)

// Hub toggles power to the chain by invoking the hub vendor's control
// binary (ykushcmd by default). The command and its argument sets come
// from configuration so other hubs can be wired in without code changes.
type Hub struct {
	command string
	onArgs  []string
	offArgs []string
	log     *zap.Logger
}

func NewHub(cfg config.PowerConfig, log *zap.Logger) *Hub {
	return &Hub{
		command: cfg.Command,
		onArgs:  cfg.OnArgs,
		offArgs: cfg.OffArgs,
		log:     log,
	}
}

func (h *Hub) On(ctx context.Context) error {
	return h.run(ctx, h.onArgs)
}

func (h *Hub) Off(ctx context.Context) error {
	return h.run(ctx, h.offArgs)
}

func (h *Hub) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, h.command, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("power command %s failed: %w: %s", h.command, err, out)
	}
	h.log.Debug("power command ok",
		zap.String("command", h.command),
		zap.Strings("args", args))
	return nil
}
