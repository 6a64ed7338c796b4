package xcache

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimator_Capacity(t *testing.T) {
	const gib = uint64(1) << 30

	tests := []struct {
		name     string
		memory   uint64
		sizeEach int64
		portion  int
		maxItems int
		want     int
	}{
		{"16GiB default tile", 16 * gib, DefaultTileSize, DefaultPortion, 0, 1024},
		{"16GiB hosted", 16 * gib, DefaultTileSize, HostedPortion, 0, 4096},
		{"clamped by maxItems", 16 * gib, DefaultTileSize, DefaultPortion, 100, 100},
		{"maxItems above estimate", 16 * gib, DefaultTileSize, DefaultPortion, 5000, 1024},
		{"tiny memory floors at 2", 1024, DefaultTileSize, DefaultPortion, 0, 2},
		{"maxItems below floor", 1024, DefaultTileSize, DefaultPortion, 1, 1},
		{"zero size treated as 1", 64, 0, 32, 0, 2},
		{"negative size treated as 1", 640, -5, 32, 0, 20},
		{"zero portion uses default", 16 * gib, DefaultTileSize, 0, 0, 1024},
		{"zero memory uses default", 0, DefaultTileSize, DefaultPortion, 0, 64},
		{"huge memory", math.MaxUint64, 1, 1, 0, math.MaxInt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Estimator{Memory: tt.memory}.Capacity(tt.sizeEach, tt.portion, tt.maxItems)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEstimator_NeverBelowTwo(t *testing.T) {
	for _, memory := range []uint64{1, 1 << 10, 1 << 20, 1 << 30} {
		for _, size := range []int64{-1, 0, 1, DefaultTileSize, math.MaxInt64} {
			got := Estimator{Memory: memory}.Capacity(size, MinPortion, 0)
			assert.GreaterOrEqual(t, got, 2)
		}
	}
}

func TestEstimateCapacity_UsesSystemMemory(t *testing.T) {
	e := SystemEstimator()
	assert.Positive(t, e.Memory)
	assert.Equal(t, e.Capacity(DefaultTileSize, DefaultPortion, 0), EstimateCapacity(DefaultTileSize, DefaultPortion, 0))
}
