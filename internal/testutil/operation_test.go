package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperation_Succeeds(t *testing.T) {
	op := Succeeds(`{"id":1}`)

	got, err := op.Run(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(got))
	assert.Equal(t, 1, op.Calls())
}

func TestOperation_Fails(t *testing.T) {
	boom := errors.New("boom")
	op := Fails(boom)

	_, err := op.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestOperation_Panics(t *testing.T) {
	op := Panics("kaboom")
	assert.PanicsWithValue(t, "kaboom", func() { _, _ = op.Run(context.Background()) })
}

func TestOperation_GatedBlocksUntilRelease(t *testing.T) {
	op := Succeeds(`1`).Gated()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = op.Run(context.Background())
	}()

	<-op.Started()
	select {
	case <-done:
		t.Fatal("gated operation returned before Release")
	case <-time.After(20 * time.Millisecond):
	}

	op.Release()
	op.Release()
	<-done
	assert.Equal(t, 1, op.Calls())
}
