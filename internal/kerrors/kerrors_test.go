package kerrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicatesMatchOwnKindOnly(t *testing.T) {
	dup := NewDuplicate("Task", "app.foo")
	assert.True(t, IsDuplicate(dup))
	assert.False(t, IsLocked(dup))
	assert.False(t, IsValidation(dup))
}

func TestValidationMessageFormat(t *testing.T) {
	err := NewValidation("Resource config", "db", fmt.Errorf("missing field x"))
	assert.Equal(t, "Resource config validation failed for db: missing field x", err.Error())
}

func TestCircularDependenciesJoinsCycles(t *testing.T) {
	err := NewCircularDependencies([]string{"a -> b -> a", "c -> c"})
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.Contains(t, err.Error(), "c -> c")
}

func TestEventEmissionCycleFormatsChainWithArrows(t *testing.T) {
	err := NewEventEmissionCycle([]string{"outer", "inner", "outer"})
	assert.Equal(t, "event emission cycles detected: outer -> inner -> outer", err.Error())
}

func TestDurableExecutionUnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("remote failed")
	err := NewDurableExecution("task.id", cause)
	var d *DurableExecution
	assert.ErrorAs(t, err, &d)
	assert.Equal(t, cause, d.Unwrap())
}
