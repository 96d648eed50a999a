package sigcontext

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/MartiMan79/gatewatch/pkg/internal/testoutput"

	"gotest.tools/v3/assert"
)

func TestSignalCancels(t *testing.T) {
	ctx, cancel := WithSignalCancel(context.Background(), testoutput.Logger(t, "sigcontext"), syscall.SIGUSR1)
	defer cancel()

	p, err := os.FindProcess(os.Getpid())
	assert.NilError(t, err)
	assert.NilError(t, p.Signal(syscall.SIGUSR1))

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled by signal")
	}
}

func TestCancelReleases(t *testing.T) {
	ctx, cancel := WithSignalCancel(context.Background(), testoutput.Logger(t, "sigcontext"), syscall.SIGUSR2)
	cancel()
	<-ctx.Done()
	// repeated cancellation is harmless
	cancel()
}
