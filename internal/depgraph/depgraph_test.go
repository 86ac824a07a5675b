package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopologicalOrderLeavesFirst(t *testing.T) {
	result := Resolve([]Node{
		{ID: "app", DependsOn: []string{"db", "cache"}},
		{ID: "db", DependsOn: []string{"config"}},
		{ID: "cache", DependsOn: []string{"config"}},
		{ID: "config"},
	})

	assert.Empty(t, result.Cycles)
	assert.Empty(t, result.Missing)

	pos := make(map[string]int)
	for i, id := range result.Order {
		pos[id] = i
	}
	assert.Less(t, pos["config"], pos["db"])
	assert.Less(t, pos["config"], pos["cache"])
	assert.Less(t, pos["db"], pos["app"])
	assert.Less(t, pos["cache"], pos["app"])
}

func TestSelfLoopDetected(t *testing.T) {
	result := Resolve([]Node{{ID: "a", DependsOn: []string{"a"}}})
	assert.Equal(t, []string{"a -> a"}, result.Cycles)
}

func TestMultipleCyclesAllReported(t *testing.T) {
	result := Resolve([]Node{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"d"}},
		{ID: "d", DependsOn: []string{"c"}},
	})
	assert.Len(t, result.Cycles, 2)
}

func TestMissingDependencyReported(t *testing.T) {
	result := Resolve([]Node{{ID: "app", DependsOn: []string{"ghost"}}})
	assert.Empty(t, result.Cycles)
	assert.Equal(t, []MissingDependency{{Consumer: "app", Key: "ghost"}}, result.Missing)
}

func TestDiamondDependencyNoFalseCycle(t *testing.T) {
	result := Resolve([]Node{
		{ID: "app", DependsOn: []string{"a", "b"}},
		{ID: "a", DependsOn: []string{"shared"}},
		{ID: "b", DependsOn: []string{"shared"}},
		{ID: "shared"},
	})
	assert.Empty(t, result.Cycles)
	assert.Len(t, result.Order, 4)
}
