package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/protobus"
)

func startBusClient(t *testing.T, addr, name string) *protobus.Client {
	t.Helper()
	c, err := protobus.NewClient(&protobus.Config{
		Name:           name,
		PubSubSystem:   "relay",
		RelayAddress:   addr,
		RequestTimeout: 2 * time.Second,
	}, protobus.NewNopServiceLogger(), protobus.Dependencies{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestBusClientsRequestThroughRelay(t *testing.T) {
	srv, addr := startServer(t, fixedSuffix(7))
	ctx := context.Background()

	echo := startBusClient(t, addr, "echo")
	require.NoError(t, echo.Register("echo", protobus.Func1(protobus.Required("text"), func(_ context.Context, _ *protobus.Invocation, text string) (string, error) {
		return text, nil
	})))
	require.NoError(t, echo.Start(ctx))

	first := startBusClient(t, addr, "caller")
	require.NoError(t, first.Start(ctx))
	second := startBusClient(t, addr, "caller")
	require.NoError(t, second.Start(ctx))

	assert.Equal(t, "caller", first.Name())
	assert.Equal(t, "caller7", second.Name())
	waitForNames(t, srv, "caller", "caller7", "echo")

	for _, c := range []*protobus.Client{first, second} {
		res, err := c.Request(ctx, "echo", "echo", protobus.WithArgs("hi"))
		require.NoError(t, err, c.Name())
		require.False(t, res.Failed(), c.Name())
		var got string
		require.NoError(t, res.Decode(&got))
		assert.Equal(t, "hi", got, c.Name())
	}

	started := time.Now()
	_, err := second.Request(ctx, "nobody", "echo", protobus.WithArgs("hi"), protobus.WithTimeout(200*time.Millisecond))
	require.ErrorIs(t, err, protobus.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(started), 150*time.Millisecond)
	assert.Zero(t, second.Pending())
}
