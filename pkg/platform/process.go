package platform

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/MartiMan79/gatewatch/pkg/logging"
)

// exitGrace gives log output a moment to drain before the process ends.
const exitGrace = 300 * time.Millisecond

// ProcessExit restarts by terminating the agent. It relies on the service
// manager (Restart=always) to start the agent again from the new files.
type ProcessExit struct {
	Log logging.Logger
}

var _ Restarter = (*ProcessExit)(nil)

func (p *ProcessExit) Restart(ctx context.Context) error {
	if p.Log != nil {
		p.Log.Warn("terminating process to run updated files")
	}
	time.Sleep(exitGrace)
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}
