package central_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/envbridge/internal/central"
	"github.com/srg/envbridge/internal/radio"
	"github.com/srg/envbridge/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCentral_Start(t *testing.T) {
	h := testutils.NewTestHelper(t)
	stack := testutils.NewMockStack()

	c, err := central.New(stack, defaultConfig(), nil, h.Logger)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	stack.AssertCalled(t, "SetLocalMTU", 500)
	stack.AssertCalled(t, "RegisterApp", radio.AppID(0))
	assert.Equal(t, central.Idle, c.State(), "scanning MUST wait for the registration event")
}

func TestCentral_StartRegisterRejected(t *testing.T) {
	h := testutils.NewTestHelper(t)
	stack := testutils.NewMockStack()
	stack.Override("RegisterApp").On("RegisterApp", mock.Anything).Return(radio.ErrNotInitialized)

	c, err := central.New(stack, defaultConfig(), nil, h.Logger)
	require.NoError(t, err)

	err = c.Start()
	assert.ErrorIs(t, err, radio.ErrNotInitialized)
}

func TestCentral_LocalMTURejectedIsNotFatal(t *testing.T) {
	h := testutils.NewTestHelper(t)
	stack := testutils.NewMockStack()
	stack.Override("SetLocalMTU").On("SetLocalMTU", mock.Anything).Return(errors.New("mtu out of range"))

	c, err := central.New(stack, defaultConfig(), nil, h.Logger)
	require.NoError(t, err)

	assert.NoError(t, c.Start())
	stack.AssertCalled(t, "RegisterApp", radio.AppID(0))
}

func TestCentral_RunStopsOnCancel(t *testing.T) {
	h := testutils.NewTestHelper(t)
	c, err := central.New(testutils.NewMockStack(), defaultConfig(), nil, h.Logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run MUST return after cancellation")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	h := testutils.NewTestHelper(t)

	cfg := defaultConfig()
	cfg.ServiceUUID = "bogus"
	_, err := central.New(testutils.NewMockStack(), cfg, nil, h.Logger)
	assert.Error(t, err)

	cfg = defaultConfig()
	cfg.DeviceName = ""
	_, err = central.New(testutils.NewMockStack(), cfg, nil, h.Logger)
	assert.Error(t, err)
}
