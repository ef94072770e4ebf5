package cubeio

import (
	"fmt"
	"math"

	"github.com/astrogo/fitsio"

	"ifubin/internal/models"
)

// sauronReader reads the SAURON binary table: one row per spaxel with the
// spectrum in DATA_SPE, the variance in STAT_SPE and the position in
// XPOS/YPOS. The wavelength axis comes from CRVALS/CDELTS.
type sauronReader struct{}

type sauronRow struct {
	Data []float64 `fits:"DATA_SPE"`
	Stat []float64 `fits:"STAT_SPE"`
	X    float64   `fits:"XPOS"`
	Y    float64   `fits:"YPOS"`
}

func (sauronReader) Survey() string { return "SAURON" }

func (sauronReader) table(f *fitsio.File) (*fitsio.Table, error) {
	hdus := f.HDUs()
	if len(hdus) < 2 {
		return nil, fmt.Errorf("%w: SAURON cube needs a binary table in HDU 1", models.ErrMalformedCube)
	}
	table, ok := hdus[1].(*fitsio.Table)
	if !ok {
		return nil, fmt.Errorf("%w: HDU 1 is not a table", models.ErrMalformedCube)
	}
	return table, nil
}

// scan calls fn for every row of the table
func (r sauronReader) scan(f *fitsio.File, fn func(i int, row *sauronRow) error) error {
	table, err := r.table(f)
	if err != nil {
		return err
	}
	rows, err := table.Read(0, table.NumRows())
	if err != nil {
		return fmt.Errorf("failed to read table: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var row sauronRow
		if err := rows.Scan(&row); err != nil {
			return fmt.Errorf("failed to scan row %d: %w", i, err)
		}
		if err := fn(i, &row); err != nil {
			return err
		}
		i++
	}
	return rows.Err()
}

func (r sauronReader) ReadHeader(f *fitsio.File) (*Header, error) {
	table, err := r.table(f)
	if err != nil {
		return nil, err
	}
	crval, err := headerFloat(table.Header(), "CRVALS")
	if err != nil {
		return nil, err
	}
	cdelt, err := headerFloat(table.Header(), "CDELTS")
	if err != nil {
		return nil, err
	}

	h := &Header{PixelSize: 1.0}
	npix := -1
	err = r.scan(f, func(_ int, row *sauronRow) error {
		if npix < 0 {
			npix = len(row.Data)
		}
		h.X = append(h.X, row.X)
		h.Y = append(h.Y, row.Y)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if npix <= 0 {
		return nil, fmt.Errorf("%w: empty SAURON table", models.ErrMalformedCube)
	}
	h.Wave = linearWave(crval, cdelt, npix)
	return h, nil
}

func (r sauronReader) ReadSpectra(f *fitsio.File, hdr *Header) ([][]float64, error) {
	out := make([][]float64, 0, hdr.NumSpaxels())
	err := r.scan(f, func(_ int, row *sauronRow) error {
		out = append(out, row.Data)
		return nil
	})
	return out, err
}

func (r sauronReader) ReadNoise(f *fitsio.File, hdr *Header) ([][]float64, error) {
	out := make([][]float64, 0, hdr.NumSpaxels())
	err := r.scan(f, func(_ int, row *sauronRow) error {
		out = append(out, row.Stat)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sqrtInPlace(out)
	return out, nil
}

// museReader reads MUSE wide-field-mode cubes: primary HDU, data in HDU 1,
// variance in HDU 2. Spaxels are 0.2 arcsec.
type museReader struct{}

func (museReader) Survey() string { return "MUSE-WFM" }

func (museReader) ReadHeader(f *fitsio.File) (*Header, error) {
	if n := len(f.HDUs()); n < 3 {
		return nil, fmt.Errorf("%w: MUSE cube needs 3 extensions (primary, data, variance), got %d", models.ErrMalformedCube, n)
	}
	h, err := gridHeader(f, 1, "CD3_3")
	if err != nil {
		return nil, err
	}
	h.PixelSize = 0.2
	return h, nil
}

func (museReader) ReadSpectra(f *fitsio.File, hdr *Header) ([][]float64, error) {
	return readCube(f, 1, hdr)
}

func (museReader) ReadNoise(f *fitsio.File, hdr *Header) ([][]float64, error) {
	variance, err := readCube(f, 2, hdr)
	if err != nil {
		return nil, err
	}
	sqrtInPlace(variance)
	return variance, nil
}

// califaReader reads CALIFA V1200 cubes: data in the primary HDU, the error
// cube in HDU 1
type califaReader struct{}

func (califaReader) Survey() string { return "CALIFA-V1200" }

func (califaReader) ReadHeader(f *fitsio.File) (*Header, error) {
	if n := len(f.HDUs()); n < 2 {
		return nil, fmt.Errorf("%w: CALIFA cube needs 2 extensions (data, dispersion), got %d", models.ErrMalformedCube, n)
	}
	h, err := gridHeader(f, 0, "CDELT3")
	if err != nil {
		return nil, err
	}
	if len(h.X) > 1 {
		h.PixelSize = math.Abs(h.X[1] - h.X[0])
	}
	return h, nil
}

func (califaReader) ReadSpectra(f *fitsio.File, hdr *Header) ([][]float64, error) {
	return readCube(f, 0, hdr)
}

func (califaReader) ReadNoise(f *fitsio.File, hdr *Header) ([][]float64, error) {
	return readCube(f, 1, hdr)
}
