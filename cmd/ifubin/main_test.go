package main

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ifubin/pkg/assemble"
)

func TestWriteProduct(t *testing.T) {
	out, err := assemble.Assemble(assemble.Input{
		Run:      assemble.Run{Name: "NGC0000-r1", SNR: 20, Velscale: 60},
		BinID:    []int{0},
		X:        assemble.Vector{0},
		Y:        assemble.Vector{0},
		Flux:     assemble.Vector{1},
		XBin:     assemble.Vector{0},
		YBin:     assemble.Vector{0},
		XBar:     assemble.Vector{0},
		YBar:     assemble.Vector{0},
		BinFlux:  assemble.Vector{1},
		BinSNR:   assemble.Vector{25},
		NPixels:  []int{1},
		Leftover: []bool{false},
		SpecObs:  []assemble.Vector{{1, math.NaN()}},
		SigmaObs: []assemble.Vector{{0.1, 0.1}},
		WaveObs:  assemble.Vector{8.5, 8.6},
		Wave:     assemble.Vector{4900, 4901},
		Mask:     []int{0},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "product.json")
	size, err := writeProduct(path, out)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	var back assemble.Output
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, out.RunID, back.RunID)
	assert.True(t, math.IsNaN(back.SpecObs[0][1]))
}
