package models

import (
	"errors"
	"testing"
)

func testCube() *Cube {
	return &Cube{
		Wave:  []float64{5000, 5001, 5002},
		Flux:  [][]float64{{1, 2, 3}, {4, 5, 6}},
		Noise: [][]float64{{0.1, 0.1, 0.1}, {0.2, 0.2, 0.2}},
		X:     []float64{0, 1},
		Y:     []float64{0, 0},
	}
}

func TestValidate(t *testing.T) {
	if err := testCube().Validate(); err != nil {
		t.Fatalf("valid cube rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Cube)
	}{
		{"empty wave", func(c *Cube) { c.Wave = nil }},
		{"no spaxels", func(c *Cube) { c.Flux, c.Noise, c.X, c.Y = nil, nil, nil, nil }},
		{"noise count", func(c *Cube) { c.Noise = c.Noise[:1] }},
		{"coordinate count", func(c *Cube) { c.Y = c.Y[:1] }},
		{"short spectrum", func(c *Cube) { c.Flux[1] = c.Flux[1][:2] }},
		{"decreasing wave", func(c *Cube) { c.Wave[2] = 4999 }},
		{"negative pixel size", func(c *Cube) { c.PixelSize = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCube()
			tt.mutate(c)
			err := c.Validate()
			if !errors.Is(err, ErrMalformedCube) {
				t.Errorf("Validate() = %v, want ErrMalformedCube", err)
			}
		})
	}
}

func TestSubsetSpaxels(t *testing.T) {
	c := testCube()
	sub := c.SubsetSpaxels([]int{1})

	if sub.NumSpaxels() != 1 || sub.NumPixels() != 3 {
		t.Fatalf("unexpected shape %dx%d", sub.NumSpaxels(), sub.NumPixels())
	}
	if sub.Flux[0][0] != 4 || sub.X[0] != 1 {
		t.Errorf("subset picked the wrong spaxel: flux %v x %v", sub.Flux[0], sub.X[0])
	}
}
