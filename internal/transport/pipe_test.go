package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe_FIFO(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()

	for _, f := range []string{"one", "two", "three"} {
		require.NoError(t, a.Send(ctx, []byte(f)))
	}
	for _, want := range []string{"one", "two", "three"} {
		got, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestPipe_Bidirectional(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()

	require.NoError(t, b.Send(ctx, []byte("pong")))
	got, err := a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(got))
}

func TestPipe_SendCopiesFrame(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()

	frame := []byte("abc")
	require.NoError(t, a.Send(ctx, frame))
	frame[0] = 'z'

	got, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestPipe_CloseDrainsThenErrors(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, []byte("last")))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	got, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "last", string(got))

	_, err = b.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Send(ctx, []byte("x")), ErrClosed)
}

func TestPipe_ReceiveHonorsContext(t *testing.T) {
	_, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
