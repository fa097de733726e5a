package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndNew(t *testing.T) {
	var got EngineConfig
	Register("registry-test", Backend{
		New: func(ctx context.Context, cfg EngineConfig) (Engine, error) {
			got = cfg
			return nil, errors.New("not built")
		},
	})

	assert.True(t, IsRegistered("registry-test"))
	assert.Contains(t, ListBackends(), "registry-test")

	_, err := New(context.Background(), "registry-test", EngineConfig{Model: "m", Device: DeviceCPU})
	require.EqualError(t, err, "not built")
	assert.Equal(t, "registry-test", got.Backend)
	assert.Equal(t, "m", got.Model)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	b := Backend{New: func(context.Context, EngineConfig) (Engine, error) { return nil, nil }}
	Register("registry-dup", b)
	assert.Panics(t, func() { Register("registry-dup", b) })
	assert.Panics(t, func() { Register("registry-nil", Backend{}) })
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("no-such-backend")
	assert.ErrorContains(t, err, `unknown backend "no-such-backend"`)
}

func TestAcceleratorAvailableWithoutProbe(t *testing.T) {
	ok, err := Backend{}.AcceleratorAvailable(context.Background(), EngineConfig{})
	require.NoError(t, err)
	assert.False(t, ok)
}
