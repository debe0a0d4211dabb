package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionRangeInclude(t *testing.T) {
	tests := []struct {
		name      string
		rng       PartitionRange
		partition int
		expected  bool
	}{
		{name: "start is included", rng: PartitionRange{Start: 0, End: 4}, partition: 0, expected: true},
		{name: "end is excluded", rng: PartitionRange{Start: 0, End: 4}, partition: 4, expected: false},
		{name: "inside", rng: PartitionRange{Start: 2, End: 6}, partition: 3, expected: true},
		{name: "before start", rng: PartitionRange{Start: 2, End: 6}, partition: 1, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.rng.Include(tt.partition))
		})
	}
}

func TestPartitionRangeKey(t *testing.T) {
	assert.Equal(t, "0-4", PartitionRange{Start: 0, End: 4}.Key())
	assert.Equal(t, "8-16", PartitionRange{Start: 8, End: 16}.Key())
}

func TestServerNodeHasTags(t *testing.T) {
	node := &ServerNode{
		Tags: map[string]struct{}{
			ServerVersionTag: {},
			"gpu":            {},
		},
	}

	assert.True(t, node.HasTags(nil))
	assert.True(t, node.HasTags([]string{ServerVersionTag}))
	assert.True(t, node.HasTags([]string{ServerVersionTag, "gpu"}))
	assert.False(t, node.HasTags([]string{"ssd"}))
	assert.False(t, node.HasTags([]string{ServerVersionTag, "ssd"}))
}

func TestStatusCodeString(t *testing.T) {
	assert.Equal(t, "SUCCESS", StatusSuccess.String())
	assert.Equal(t, "ACCESS_DENIED", StatusAccessDenied.String())
	assert.Equal(t, "NO_BUFFER", StatusNoBuffer.String())
	assert.Equal(t, "STATE_UNEXPECTED", StatusStateUnexpected.String())
}
