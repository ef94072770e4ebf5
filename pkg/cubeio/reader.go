// Package cubeio reads IFU datacubes from survey-specific FITS layouts into
// the common models.Cube layout.
//
// Each layout is a Reader registered under its survey name. The built-in
// readers cover SAURON, MUSE-WFM and CALIFA-V1200; new layouts are added
// with Register without touching the pipeline.
package cubeio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/astrogo/fitsio"

	"ifubin/internal/models"
)

// ErrUnrecognizedSurvey is returned for a survey with no registered reader
var ErrUnrecognizedSurvey = errors.New("unrecognized survey")

// Header is the geometry of a cube, read before the spectra
type Header struct {
	// Wave is the observed wavelength axis
	Wave []float64

	// X, Y are the spaxel coordinates in arcsec
	X, Y []float64

	// PixelSize is the spaxel size in arcsec
	PixelSize float64
}

// NumSpaxels returns the number of spaxels described by h
func (h *Header) NumSpaxels() int { return len(h.X) }

// Reader reads one survey layout
type Reader interface {
	// Survey returns the name the reader is registered under
	Survey() string

	ReadHeader(f *fitsio.File) (*Header, error)

	// ReadSpectra and ReadNoise return [spaxel][pixel] matrices matching hdr
	ReadSpectra(f *fitsio.File, hdr *Header) ([][]float64, error)
	ReadNoise(f *fitsio.File, hdr *Header) ([][]float64, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Reader{}
)

// Register makes r available under r.Survey(), replacing any previous reader
func Register(r Reader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[r.Survey()] = r
}

// Lookup returns the reader registered for survey
func Lookup(survey string) (Reader, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[survey]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnrecognizedSurvey, survey, strings.Join(surveysLocked(), ", "))
	}
	return r, nil
}

// Surveys lists the registered survey names
func Surveys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return surveysLocked()
}

func surveysLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Read opens the FITS file at path and decodes it with the reader of survey.
// The cube is named after the file's root name.
func Read(survey, path string) (*models.Cube, error) {
	reader, err := Lookup(survey)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cube: %w", err)
	}
	defer file.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Decode(reader, file, name)
}

// Decode reads a cube from a FITS stream with reader
func Decode(reader Reader, r io.Reader, name string) (*models.Cube, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read FITS: %w", err)
	}
	defer f.Close()

	hdr, err := reader.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%s header: %w", reader.Survey(), err)
	}
	flux, err := reader.ReadSpectra(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("%s spectra: %w", reader.Survey(), err)
	}
	noise, err := reader.ReadNoise(f, hdr)
	if err != nil {
		return nil, fmt.Errorf("%s noise: %w", reader.Survey(), err)
	}

	cube := &models.Cube{
		Name:      name,
		Survey:    reader.Survey(),
		Wave:      hdr.Wave,
		Flux:      flux,
		Noise:     noise,
		X:         hdr.X,
		Y:         hdr.Y,
		PixelSize: hdr.PixelSize,
	}
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	return cube, nil
}

func init() {
	Register(sauronReader{})
	Register(museReader{})
	Register(califaReader{})
}
