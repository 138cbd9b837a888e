package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type plain struct{}

func (plain) Name() string                  { return "plain" }
func (plain) Run(ctx context.Context) error { return nil }

func TestIsReady(t *testing.T) {
	assert.True(t, IsReady(plain{}), "tasks without a precondition are always ready")

	ready := false
	f := &Func{Label: "gated", Cond: func() bool { return ready }}
	assert.False(t, IsReady(f))
	ready = true
	assert.True(t, IsReady(f))

	assert.True(t, IsReady(&Func{Label: "nil cond"}))
}

func TestFunc_Run(t *testing.T) {
	boom := errors.New("boom")
	f := &Func{Label: "fails", Fn: func(ctx context.Context) error { return boom }}
	assert.Equal(t, "fails", f.Name())
	assert.ErrorIs(t, f.Run(context.Background()), boom)

	assert.NoError(t, (&Func{Label: "empty"}).Run(context.Background()))
}
