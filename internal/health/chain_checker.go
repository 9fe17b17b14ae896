package health

import (
	"context"
	"time"

	"github.com/servinagrero/SRAMPlatform/internal/reader"
)

// ChainChecker reports the state of the device chain behind the serial
// port. A powered-off chain is degraded, not unhealthy: the station can
// still take power and status commands.
type ChainChecker struct {
	session *reader.Session
}

func NewChainChecker(session *reader.Session) *ChainChecker {
	return &ChainChecker{session: session}
}

func (c *ChainChecker) Name() string {
	return "chain"
}

func (c *ChainChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	snap := c.session.Snapshot()

	status := StatusHealthy
	message := "ok"
	switch {
	case snap.State != reader.StateOn:
		status = StatusDegraded
		message = "port powered off"
	case len(snap.Devices) == 0:
		status = StatusDegraded
		message = "no devices identified"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"state":   snap.State,
			"devices": len(snap.Devices),
		},
		Latency: time.Since(start),
	}
}
