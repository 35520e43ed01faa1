package gomatrixstateres

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityKey(eventID string) (string, error) {
	return eventID, nil
}

func TestLexicographicalTopologicalSort(t *testing.T) {
	graph := EventGraph{}
	graph.AddNode("a")
	graph.AddEdge("d", "b")
	graph.AddEdge("d", "c")
	graph.AddEdge("c", "a")
	graph.AddEdge("b", "a")
	graph.AddNode("e")
	// Edges to events outside the graph are ignored.
	graph.AddEdge("e", "unknown")

	sorted, err := LexicographicalTopologicalSort(graph, identityKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, sorted)

	// Reversing the key only changes the order of events that are ready
	// at the same time.
	sorted, err = LexicographicalTopologicalSort(graph, func(eventID string) (string, error) {
		return string(rune('z' - eventID[0])), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "a", "c", "b", "d"}, sorted)
}

func TestEventGraphAddEdge(t *testing.T) {
	graph := EventGraph{}
	graph.AddEdge("b", "a")
	assert.Len(t, graph, 1, "the dependency is not added as a node")
	sorted, err := LexicographicalTopologicalSort(graph, identityKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, sorted)

	// Once the dependency is a node the edge counts.
	graph.AddNode("a")
	graph.AddNode("0")
	sorted, err = LexicographicalTopologicalSort(graph, func(eventID string) (string, error) {
		return string(rune('z' - eventID[0])), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "0"}, sorted)
}

func TestLexicographicalTopologicalSortCycle(t *testing.T) {
	graph := EventGraph{}
	graph.AddEdge("a", "b")
	graph.AddEdge("b", "a")
	graph.AddEdge("c", "a")
	graph.AddNode("d")

	_, err := LexicographicalTopologicalSort(graph, identityKey)
	var cycle CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b", "c"}, cycle.EventIDs)
}

func TestLexicographicalTopologicalSortKeyError(t *testing.T) {
	graph := EventGraph{}
	graph.AddNode("a")
	boom := errors.New("boom")
	_, err := LexicographicalTopologicalSort(graph, func(string) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestReverseTopologicalEventSorting(t *testing.T) {
	graph := getBaseStateResV2Graph()
	// Hand the events over newest first.
	input := make([]Event, 0, len(graph))
	for i := len(graph) - 1; i >= 0; i-- {
		input = append(input, graph[i])
	}

	sorted, err := ReverseTopologicalOrdering(input, TopologicalOrderByAuthEvents)
	require.NoError(t, err)
	ids := make([]string, len(sorted))
	for i := range sorted {
		ids[i] = sorted[i].EventID()
	}
	assert.Equal(t, []string{
		"$CREATE:example.com", "$IMA:example.com", "$IPOWER:example.com",
		"$IJR:example.com", "$IMB:example.com", "$IMC:example.com",
	}, ids)
}

func TestReverseTopologicalEventSortingByPrevEvents(t *testing.T) {
	// B is older than A by timestamp, but A is its prev event.
	a := stateEvent("$A:example.com", ALICE, "m.room.topic", &emptyStateKey, 10, `{}`)
	b := stateEvent("$B:example.com", ALICE, "m.room.topic", &emptyStateKey, 5, `{}`)
	b.Prev = []string{"$A:example.com"}
	c := stateEvent("$C:example.com", ALICE, "m.room.topic", &emptyStateKey, 1, `{}`)

	sorted, err := ReverseTopologicalOrdering([]Event{b, a, c}, TopologicalOrderByPrevEvents)
	require.NoError(t, err)
	require.Len(t, sorted, 3)
	assert.Equal(t, "$C:example.com", sorted[0].EventID())
	assert.Equal(t, "$A:example.com", sorted[1].EventID())
	assert.Equal(t, "$B:example.com", sorted[2].EventID())

	_, err = ReverseTopologicalOrdering([]Event{a}, TopologicalOrder(0))
	assert.Error(t, err)
}
