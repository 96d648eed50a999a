package sigcontext

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/MartiMan79/gatewatch/pkg/logging"
)

// WithSignalCancel returns a context that is cancelled when one of sigs is
// delivered to the process. The returned cancel releases the signal handler
// and must be called; once it has been, a further signal gets the runtime's
// default handling (a second ^C terminates the process).
func WithSignalCancel(ctx context.Context, log logging.Logger, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	sigctx, ctxcancel := context.WithCancel(ctx)

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, sigs...)

	var once sync.Once
	release := func() {
		once.Do(func() {
			signal.Stop(sigchan)
		})
	}
	cancel := func() {
		ctxcancel()
		release()
	}

	go func() {
		defer release()
		select {
		case <-sigctx.Done():
		case sig := <-sigchan:
			log.WithField("signal", sig.String()).Info("received signal, shutting down")
			ctxcancel()
		}
	}()

	return sigctx, cancel
}
