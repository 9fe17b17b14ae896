package dispatch

// Command names accepted on the intake queue.
const (
	CmdStatus      = "status"
	CmdPowerOn     = "power_on"
	CmdPowerOff    = "power_off"
	CmdPing        = "ping"
	CmdSensors     = "sensors"
	CmdRead        = "read"
	CmdWrite       = "write"
	CmdWriteInvert = "write_invert"
	CmdLoad        = "load"
	CmdExec        = "exec"
	CmdRetr        = "retr"
)

// Request is one command taken off the intake queue. Fields beyond Command
// are consulted only by the commands that need them.
type Request struct {
	// ID correlates log lines of one invocation; assigned when empty.
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
	// Device UID for single-target commands.
	Device string `json:"device,omitempty"`
	// Offset of the memory region for write.
	Offset int `json:"offset,omitempty"`
	// Data payload for write, base64 in the JSON form.
	Data []byte `json:"data,omitempty"`
	// Source code for load.
	Source string `json:"source,omitempty"`
	// Reset flag for exec.
	Reset bool `json:"reset,omitempty"`
}
