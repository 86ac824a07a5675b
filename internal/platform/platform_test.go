package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumped-fn/runner/internal/kerrors"
)

func TestProcessAdapterAsyncLocalStorageRoundTrip(t *testing.T) {
	adapter := NewProcessAdapter()
	require.True(t, adapter.HasAsyncLocalStorage())
	store := adapter.CreateAsyncLocalStorage()

	ctx := context.Background()
	var observed any
	var ok bool
	err := store.Run(ctx, "marker", func(inner context.Context) {
		observed, ok, _ = store.Get(inner)
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "marker", observed)
}

func TestProcessAdapterForceNoopFailsAtCallTimeNotConstruction(t *testing.T) {
	t.Setenv("RUNNER_FORCE_NOOP_ALS", "1")
	adapter := NewProcessAdapter()
	assert.False(t, adapter.HasAsyncLocalStorage())

	store := adapter.CreateAsyncLocalStorage()
	require.NotNil(t, store)

	_, _, err := store.Get(context.Background())
	assert.True(t, kerrors.IsPlatformUnsupported(err))

	err = store.Run(context.Background(), "x", func(context.Context) {})
	assert.True(t, kerrors.IsPlatformUnsupported(err))
}

func TestNoopAdapterExitIsUnsupported(t *testing.T) {
	adapter := NewNoopAdapter()
	err := adapter.Exit(0)
	assert.True(t, kerrors.IsPlatformUnsupported(err))
}

func TestDetectHonorsForceKind(t *testing.T) {
	defer ResetForcedKind()

	ForceKind("noop")
	_, isNoop := Detect().(*NoopAdapter)
	assert.True(t, isNoop)

	ForceKind("process")
	_, isProcess := Detect().(*ProcessAdapter)
	assert.True(t, isProcess)
}

func TestGetFromContextWithoutRunReturnsFalse(t *testing.T) {
	_, ok := GetFromContext(context.Background())
	assert.False(t, ok)
}
