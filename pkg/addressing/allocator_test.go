package addressing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubdividerConsecutiveBlocks(t *testing.T) {
	alloc, err := New(Config{})
	require.NoError(t, err)

	blocks, err := alloc.Allocate("10.20.0.0/16", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.20.0.0/24", "10.20.1.0/24", "10.20.2.0/24"}, blocks)
}

func TestSubdividerCustomPrefixLength(t *testing.T) {
	alloc, err := New(Config{Strategy: StrategySubdivide, PrefixLength: 26})
	require.NoError(t, err)

	blocks, err := alloc.Allocate("192.168.4.0/24", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"192.168.4.0/26", "192.168.4.64/26", "192.168.4.128/26", "192.168.4.192/26",
	}, blocks)

	_, err = alloc.Allocate("192.168.4.0/24", 5)
	assert.Error(t, err, "a /24 holds only four /26 blocks")
}

func TestSubdividerFullSlash16(t *testing.T) {
	alloc, err := New(Config{})
	require.NoError(t, err)

	blocks, err := alloc.Allocate("10.0.0.0/16", MaxSubdivisions)
	require.NoError(t, err)
	require.Len(t, blocks, MaxSubdivisions)
	assert.Equal(t, "10.0.255.0/24", blocks[MaxSubdivisions-1])
}

func TestFixedOctet(t *testing.T) {
	alloc, err := New(Config{Strategy: StrategyFixedOctet})
	require.NoError(t, err)

	blocks, err := alloc.Allocate("10.20.0.0/16", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.20.0.0/24", "10.20.1.0/24"}, blocks)

	_, err = alloc.Allocate("172.16.0.0/16", 2)
	assert.Error(t, err, "fixed blocks fall outside the parent")
}

func TestAllocateRejectsInvalidInput(t *testing.T) {
	alloc, err := New(Config{})
	require.NoError(t, err)

	tests := []struct {
		parent string
		count  int
	}{
		{"10.20.0.0/16", 0},
		{"10.20.0.0/16", -1},
		{"10.20.0.0/16", MaxSubdivisions + 1},
		{"not-a-cidr", 1},
		{"10.20.0.1/16", 1},
		{"10.20.0.0/25", 1},
		{"fd00::/48", 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.parent, tt.count), func(t *testing.T) {
			_, err := alloc.Allocate(tt.parent, tt.count)
			assert.Error(t, err)
		})
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Strategy: "random"})
	assert.Error(t, err)

	_, err = New(Config{Strategy: StrategyFixedOctet, FixedPrefix: "10"})
	assert.Error(t, err)

	_, err = New(Config{Strategy: StrategyFixedOctet, FixedPrefix: "10.300"})
	assert.Error(t, err)

	_, err = New(Config{PrefixLength: 33})
	assert.Error(t, err)
}
