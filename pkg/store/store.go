// Package store keeps a catalogue of pipeline runs in a SQL database.
//
// Each run is stored as one row of scalar metadata together with the full
// JSON product, and one row per bin so that bins can be queried without
// decoding the product. SQLite is used for plain file paths, PostgreSQL for
// postgres:// DSNs.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"ifubin/pkg/assemble"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a run ID is not in the store
var ErrNotFound = errors.New("run not found")

// RunSummary is the scalar metadata of a stored run
type RunSummary struct {
	RunID       string    `db:"run_id"`
	Name        string    `db:"runname"`
	Survey      string    `db:"survey"`
	Redshift    float64   `db:"redshift"`
	ScaleFactor float64   `db:"scale_factor"`
	SNR         float64   `db:"snr"`
	Velscale    float64   `db:"velscale"`
	Lmin        float64   `db:"lmin"`
	Lmax        float64   `db:"lmax"`
	NSpec       int       `db:"nspec"`
	NBins       int       `db:"nbins"`
	NPixObs     int       `db:"npix_obs"`
	NMask       int       `db:"nmask"`
	CreatedAt   time.Time `db:"created_at"`
}

type runRow struct {
	RunSummary
	Product string `db:"product"`
}

// BinRow is one stored bin. Non-finite values are stored as NULL.
type BinRow struct {
	RunID    string          `db:"run_id"`
	BinID    int             `db:"bin_id"`
	XBin     sql.NullFloat64 `db:"xbin"`
	YBin     sql.NullFloat64 `db:"ybin"`
	XBar     sql.NullFloat64 `db:"xbar"`
	YBar     sql.NullFloat64 `db:"ybar"`
	BinFlux  sql.NullFloat64 `db:"bin_flux"`
	BinSNR   sql.NullFloat64 `db:"bin_snr"`
	NPixels  int             `db:"npixels"`
	Leftover bool            `db:"leftover"`
}

// Store is a run catalogue backed by a SQL database
type Store struct {
	db *sqlx.DB
}

// driverFor picks the database driver for dsn
func driverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite3"
}

// Open connects to dsn and creates the schema if needed
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty store DSN")
	}
	driver := driverFor(dsn)
	if driver == "sqlite3" && !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on"
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s store: %w", driver, err)
	}
	if driver == "sqlite3" {
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const insertRunSQL = `
INSERT INTO runs (
    run_id, runname, survey, redshift, scale_factor, snr, velscale, lmin, lmax,
    nspec, nbins, npix_obs, nmask, created_at, product
) VALUES (
    :run_id, :runname, :survey, :redshift, :scale_factor, :snr, :velscale, :lmin, :lmax,
    :nspec, :nbins, :npix_obs, :nmask, :created_at, :product
)`

const insertBinSQL = `
INSERT INTO bins (
    run_id, bin_id, xbin, ybin, xbar, ybar, bin_flux, bin_snr, npixels, leftover
) VALUES (
    :run_id, :bin_id, :xbin, :ybin, :xbar, :ybar, :bin_flux, :bin_snr, :npixels, :leftover
)`

// SaveRun stores out and its bins in one transaction
func (s *Store) SaveRun(ctx context.Context, out *assemble.Output) (err error) {
	product, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshaling product: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := runRow{
		RunSummary: RunSummary{
			RunID:       out.RunID,
			Name:        out.Name,
			Survey:      out.Survey,
			Redshift:    out.Redshift,
			ScaleFactor: out.ScaleFactor,
			SNR:         out.SNR,
			Velscale:    out.Velscale,
			Lmin:        out.Lmin,
			Lmax:        out.Lmax,
			NSpec:       out.NSpec,
			NBins:       out.NBins,
			NPixObs:     out.NPixObs,
			NMask:       out.NMask,
			CreatedAt:   out.CreatedAt,
		},
		Product: string(product),
	}
	if _, err = tx.NamedExecContext(ctx, insertRunSQL, row); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, insertBinSQL)
	if err != nil {
		return fmt.Errorf("preparing bin insert: %w", err)
	}
	defer stmt.Close()

	for k := 0; k < out.NBins; k++ {
		bin := BinRow{
			RunID:    out.RunID,
			BinID:    k,
			XBin:     nullable(out.XBin[k]),
			YBin:     nullable(out.YBin[k]),
			XBar:     nullable(out.XBar[k]),
			YBar:     nullable(out.YBar[k]),
			BinFlux:  nullable(out.BinFlux[k]),
			BinSNR:   nullable(out.BinSNR[k]),
			NPixels:  out.NPixels[k],
			Leftover: out.Leftover[k],
		}
		if _, err = stmt.ExecContext(ctx, bin); err != nil {
			return fmt.Errorf("inserting bin %d: %w", k, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}
	return nil
}

// LoadRun returns the product stored under runID
func (s *Store) LoadRun(ctx context.Context, runID string) (*assemble.Output, error) {
	var product string
	query := s.db.Rebind(`SELECT product FROM runs WHERE run_id = ?`)
	if err := s.db.GetContext(ctx, &product, query, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("loading run: %w", err)
	}

	var out assemble.Output
	if err := json.Unmarshal([]byte(product), &out); err != nil {
		return nil, fmt.Errorf("decoding product: %w", err)
	}
	return &out, nil
}

// Runs lists the stored runs, oldest first. A non-empty name restricts the
// list to runs with that run name.
func (s *Store) Runs(ctx context.Context, name string) ([]RunSummary, error) {
	query := `SELECT run_id, runname, survey, redshift, scale_factor, snr, velscale, lmin, lmax,
        nspec, nbins, npix_obs, nmask, created_at
    FROM runs`
	var args []any
	if name != "" {
		query += ` WHERE runname = ?`
		args = append(args, name)
	}
	query += ` ORDER BY created_at, run_id`

	var runs []RunSummary
	if err := s.db.SelectContext(ctx, &runs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Bins returns the bins of a run ordered by bin ID
func (s *Store) Bins(ctx context.Context, runID string) ([]BinRow, error) {
	query := s.db.Rebind(`SELECT run_id, bin_id, xbin, ybin, xbar, ybar, bin_flux, bin_snr, npixels, leftover
    FROM bins WHERE run_id = ? ORDER BY bin_id`)

	var bins []BinRow
	if err := s.db.SelectContext(ctx, &bins, query, runID); err != nil {
		return nil, fmt.Errorf("listing bins: %w", err)
	}
	return bins, nil
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
