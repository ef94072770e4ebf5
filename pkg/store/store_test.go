package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ifubin/pkg/assemble"
)

func sampleOutput(t *testing.T, name string) *assemble.Output {
	t.Helper()
	out, err := assemble.Assemble(assemble.Input{
		Run: assemble.Run{
			Name: name, Survey: "CALIFA-V1200", Redshift: 0.005, ScaleFactor: 1e3,
			SNR: 40, Velscale: 70, Lmin: 4800, Lmax: 5300, Porder: 4, Border: 8, MaskWidth: 600,
		},
		BinID:    []int{1, 0, 0},
		X:        assemble.Vector{0, 1, 2},
		Y:        assemble.Vector{1, 1, 1},
		Flux:     assemble.Vector{8, 3, 2},
		XBin:     assemble.Vector{1.5, 0},
		YBin:     assemble.Vector{1, 1},
		XBar:     assemble.Vector{1.4, 0},
		YBar:     assemble.Vector{1, 1},
		BinFlux:  assemble.Vector{math.NaN(), 8},
		BinSNR:   assemble.Vector{30, 44},
		NPixels:  []int{2, 1},
		Leftover: []bool{true, false},
		SpecObs:  []assemble.Vector{{1, 1}, {1, 1}},
		SigmaObs: []assemble.Vector{{0.1, 0.1}, {0.05, 0.05}},
		WaveObs:  assemble.Vector{8.48, 8.49},
		Wave:     assemble.Vector{4800, 4801, 4802},
		Mask:     []int{0, 1},
	})
	require.NoError(t, err)
	return out
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDriverFor(t *testing.T) {
	assert.Equal(t, "postgres", driverFor("postgres://user@localhost/ifu"))
	assert.Equal(t, "postgres", driverFor("postgresql://localhost/ifu"))
	assert.Equal(t, "sqlite3", driverFor("/data/runs.db"))
	assert.Equal(t, "sqlite3", driverFor("file:runs.db?cache=shared"))
}

func TestSaveAndLoadRun(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	out := sampleOutput(t, "NGC4486-r1")

	require.NoError(t, s.SaveRun(ctx, out))

	back, err := s.LoadRun(ctx, out.RunID)
	require.NoError(t, err)
	assert.Equal(t, out.RunID, back.RunID)
	assert.Equal(t, out.BinID, back.BinID)
	assert.Equal(t, out.SpecObs, back.SpecObs)
	assert.Equal(t, out.Mask, back.Mask)
	assert.True(t, math.IsNaN(back.BinFlux[0]))
	assert.True(t, out.CreatedAt.Equal(back.CreatedAt))

	bins, err := s.Bins(ctx, out.RunID)
	require.NoError(t, err)
	require.Len(t, bins, 2)
	assert.Equal(t, 0, bins[0].BinID)
	assert.False(t, bins[0].BinFlux.Valid, "NaN is stored as NULL")
	assert.Equal(t, 44.0, bins[1].BinSNR.Float64)
	assert.True(t, bins[0].Leftover)
	assert.Equal(t, 1, bins[1].NPixels)

	// Run IDs are unique
	assert.Error(t, s.SaveRun(ctx, out))
}

func TestLoadRunNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a := sampleOutput(t, "NGC4486-r1")
	b := sampleOutput(t, "NGC4486-r2")
	require.NoError(t, s.SaveRun(ctx, a))
	require.NoError(t, s.SaveRun(ctx, b))

	all, err := s.Runs(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	only, err := s.Runs(ctx, "NGC4486-r2")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, b.RunID, only[0].RunID)
	assert.Equal(t, 2, only[0].NBins)
	assert.Equal(t, 70.0, only[0].Velscale)
}

func TestOpenEmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}
