package groutine_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/envbridge/internal/groutine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NameInContext(t *testing.T) {
	names := make(chan string, 1)
	groutine.Go(context.Background(), "ble-scan", func(ctx context.Context) {
		names <- groutine.GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "ble-scan", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine MUST run")
	}
}

func TestGo_NilParent(t *testing.T) {
	done := make(chan struct{})
	//nolint:staticcheck // nil parent is part of the contract
	groutine.Go(nil, "worker", func(ctx context.Context) {
		assert.NotNil(t, ctx)
		close(done)
	})
	<-done
}

func TestGetName_Missing(t *testing.T) {
	assert.Empty(t, groutine.GetName(context.Background()))
	//nolint:staticcheck // nil context is handled
	assert.Empty(t, groutine.GetName(nil))
}

func TestWithName(t *testing.T) {
	logger, hook := test.NewNullLogger()

	groutineDone := make(chan struct{})
	groutine.Go(context.Background(), "ble-link-7", func(ctx context.Context) {
		groutine.WithName(ctx, logger).Info("worker started")
		close(groutineDone)
	})
	<-groutineDone

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, "ble-link-7", entry.Data["goroutine"])
	assert.Equal(t, logrus.InfoLevel, entry.Level)

	groutine.WithName(context.Background(), logger).Info("no name")
	_, tagged := hook.LastEntry().Data["goroutine"]
	assert.False(t, tagged, "untagged context MUST NOT add a goroutine field")
}

func TestGroup_StopWaitsForAll(t *testing.T) {
	g := groutine.NewGroup(context.Background())

	var exited atomic.Int32
	for i := 0; i < 3; i++ {
		g.Go("worker", func(ctx context.Context) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			exited.Add(1)
		})
	}

	g.Stop()
	assert.Equal(t, int32(3), exited.Load(), "Stop MUST wait for every goroutine")
	assert.ErrorIs(t, g.Context().Err(), context.Canceled)
}

func TestGroup_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	g := groutine.NewGroup(parent)

	stopped := make(chan struct{})
	g.Go("watcher", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("parent cancellation MUST reach group goroutines")
	}
	g.Stop()
}
