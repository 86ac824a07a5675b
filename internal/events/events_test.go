package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumped-fn/runner/internal/kerrors"
)

func TestEmitUnknownEvent(t *testing.T) {
	m := NewManager()
	_, err := m.Emit(context.Background(), "nope", nil, "test", EmitOptions{}, nil)
	assert.True(t, kerrors.IsEventNotFound(err))
}

func TestListenersRunInOrderThenBySequence(t *testing.T) {
	m := NewManager()
	m.DefineEvent(&Definition{ID: "ev"})

	var seen []string
	mk := func(name string, order int) *Listener {
		return &Listener{ID: name, EventID: "ev", Order: order, Handler: func(ctx context.Context, e *Emission) error {
			seen = append(seen, name)
			return nil
		}}
	}
	require.NoError(t, m.AddListener(mk("b", 1)))
	require.NoError(t, m.AddListener(mk("a", 0)))
	require.NoError(t, m.AddListener(mk("c", 1)))

	_, err := m.Emit(context.Background(), "ev", nil, "test", EmitOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestStopPropagationHaltsRemainingListeners(t *testing.T) {
	m := NewManager()
	m.DefineEvent(&Definition{ID: "ev"})

	var seen []string
	require.NoError(t, m.AddListener(&Listener{ID: "first", EventID: "ev", Handler: func(ctx context.Context, e *Emission) error {
		seen = append(seen, "first")
		e.StopPropagation()
		return nil
	}}))
	require.NoError(t, m.AddListener(&Listener{ID: "second", EventID: "ev", Order: 1, Handler: func(ctx context.Context, e *Emission) error {
		seen = append(seen, "second")
		return nil
	}}))

	report, err := m.Emit(context.Background(), "ev", nil, "test", EmitOptions{Report: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, seen)
	assert.True(t, report.Stopped)
}

func TestParallelDispatchAggregatesErrors(t *testing.T) {
	m := NewManager()
	m.DefineEvent(&Definition{ID: "ev", Parallel: true})

	errA := errors.New("a failed")
	errB := errors.New("b failed")
	require.NoError(t, m.AddListener(&Listener{ID: "a", EventID: "ev", Handler: func(ctx context.Context, e *Emission) error { return errA }}))
	require.NoError(t, m.AddListener(&Listener{ID: "b", EventID: "ev", Handler: func(ctx context.Context, e *Emission) error { return errB }}))

	_, err := m.Emit(context.Background(), "ev", nil, "test", EmitOptions{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Contains(t, err.Error(), "b failed")
}

func TestAddListenerAfterLockFails(t *testing.T) {
	m := NewManager()
	m.DefineEvent(&Definition{ID: "ev"})
	m.Lock()
	err := m.AddListener(&Listener{ID: "late", EventID: "ev", Handler: func(context.Context, *Emission) error { return nil }})
	assert.True(t, kerrors.IsLocked(err))
}

func TestEmissionCycleDetection(t *testing.T) {
	m := NewManager()
	m.DefineEvent(&Definition{ID: "ev"})
	_, err := m.Emit(context.Background(), "ev", nil, "test", EmitOptions{RuntimeCycleCheck: true}, []string{"outer", "ev"})
	assert.True(t, kerrors.IsEventEmissionCycle(err))
}

func TestCatchAllListenerReceivesEveryEvent(t *testing.T) {
	m := NewManager()
	m.DefineEvent(&Definition{ID: "one"})
	m.DefineEvent(&Definition{ID: "two"})

	var seen []string
	require.NoError(t, m.AddListener(&Listener{ID: "all", EventID: "*", Handler: func(ctx context.Context, e *Emission) error {
		seen = append(seen, e.EventID)
		return nil
	}}))

	_, err := m.Emit(context.Background(), "one", nil, "test", EmitOptions{}, nil)
	require.NoError(t, err)
	_, err = m.Emit(context.Background(), "two", nil, "test", EmitOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, seen)
}

func TestPayloadValidationFailure(t *testing.T) {
	m := NewManager()
	m.DefineEvent(&Definition{ID: "ev", Schema: rejectAll{}})
	require.NoError(t, m.AddListener(&Listener{ID: "l", EventID: "ev", Handler: func(context.Context, *Emission) error { return nil }}))

	_, err := m.Emit(context.Background(), "ev", "payload", "test", EmitOptions{}, nil)
	assert.True(t, kerrors.IsValidation(err))
}

type rejectAll struct{}

func (rejectAll) Validate(v any) (any, error) { return nil, errors.New("always rejects") }
