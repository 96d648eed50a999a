// Package workgroup runs a set of named long-lived workers that share one
// context.
package workgroup

import (
	"context"

	"github.com/MartiMan79/gatewatch/pkg/logging"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type Group struct {
	ctx   context.Context
	log   logging.Logger
	group *errgroup.Group
}

// WithContext returns a Group whose workers run under a context derived from
// ctx. The first worker to fail cancels the rest.
func WithContext(ctx context.Context, log logging.Logger) *Group {
	group, gctx := errgroup.WithContext(ctx)
	return &Group{
		ctx:   gctx,
		log:   log,
		group: group,
	}
}

// Work starts fn. A worker is expected to return nil when its context is
// cancelled.
func (g *Group) Work(name string, fn func(context.Context) error) {
	g.group.Go(func() error {
		log := g.log.WithField("worker", name)
		log.Debug("starting")
		if err := fn(g.ctx); err != nil {
			log.WithError(err).Error("worker stopped")
			return errors.WithMessagef(err, "worker %s", name)
		}
		log.Debug("finished")
		return nil
	})
}

// Context is the context given to workers.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Wait blocks until every worker returned and reports the first failure.
func (g *Group) Wait() error {
	return g.group.Wait()
}
