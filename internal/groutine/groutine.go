// Package groutine starts named goroutines. The name is attached as a pprof
// label and travels in the goroutine's context, so log lines and profiles can
// tell the scan loop, dial attempts and per-link workers apart.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a goroutine with a name, optional parent context
// Example usage:
//
//	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithName returns a log entry tagged with the goroutine name carried by ctx.
func WithName(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	if name := GetName(ctx); name != "" {
		return logger.WithField("goroutine", name)
	}
	return logrus.NewEntry(logger)
}

// Group tracks named goroutines sharing one parent context so their owner
// can cancel them together and wait for them to exit.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGroup creates a Group whose goroutines are cancelled with parent.
func NewGroup(parent context.Context) *Group {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// Context returns the group's context.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go starts fn as a named goroutine of the group.
func (g *Group) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(g.ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	})
}

// Stop cancels the group's context and waits for every goroutine to return.
func (g *Group) Stop() {
	g.cancel()
	g.wg.Wait()
}
