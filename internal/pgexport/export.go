// Package pgexport publishes the merged catalog into a Postgres table so
// map tiles and ad-hoc SQL can use it.
package pgexport

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/lampioni/lampioni/internal/db"
	"github.com/lampioni/lampioni/internal/model"
)

// DefaultTable is the export target when none is configured.
const DefaultTable = "public.street_lamps"

// Columns written for every entity, in COPY order.
var Columns = []string{
	"osm_id", "lon", "lat", "geom_ewkb", "tags", "contributor", "edit_timestamp", "date_added",
}

// Result summarizes one export.
type Result struct {
	Upserted int64 `json:"upserted"`
	Deleted  int64 `json:"deleted"`
}

// Exporter mirrors the catalog's new entities into a table.
type Exporter struct {
	pool  db.Pool
	table string
	log   *zap.Logger
}

// New creates an Exporter writing to table.
func New(pool db.Pool, table string) *Exporter {
	if table == "" {
		table = DefaultTable
	}
	return &Exporter{
		pool:  pool,
		table: table,
		log:   zap.L().With(zap.String("component", "pgexport"), zap.String("table", table)),
	}
}

// EnsureTable creates the target table when missing.
func (e *Exporter) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	osm_id         BIGINT PRIMARY KEY,
	lon            DOUBLE PRECISION NOT NULL,
	lat            DOUBLE PRECISION NOT NULL,
	geom_ewkb      BYTEA NOT NULL,
	tags           JSONB NOT NULL DEFAULT '{}'::jsonb,
	contributor    TEXT NOT NULL,
	edit_timestamp TIMESTAMPTZ,
	date_added     DATE NOT NULL,
	exported_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`, db.SanitizeTable(e.table))
	if _, err := e.pool.Exec(ctx, ddl); err != nil {
		return eris.Wrapf(err, "pgexport: create table %s", e.table)
	}
	return nil
}

// Export upserts every new entity and deletes rows whose ids are no longer
// in the catalog, committing both or neither.
func (e *Exporter) Export(ctx context.Context, c *model.Catalog) (*Result, error) {
	if err := e.EnsureTable(ctx); err != nil {
		return nil, err
	}

	rows := make([][]any, 0, len(c.NewEntities))
	keep := make([]int64, 0, len(c.NewEntities))
	for _, ent := range c.NewEntities {
		row, err := Row(ent)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		keep = append(keep, ent.ID)
	}
	model.SortIDs(keep)

	var upserted, deleted int64
	err := db.WithTx(ctx, e.pool, func(tx pgx.Tx) error {
		var err error
		upserted, err = db.UpsertRows(ctx, tx, db.UpsertConfig{
			Table:        e.table,
			Columns:      Columns,
			ConflictKeys: []string{"osm_id"},
		}, rows)
		if err != nil {
			return eris.Wrap(err, "pgexport: upsert")
		}
		deleted, err = db.DeleteExcept(ctx, tx, e.table, "osm_id", keep)
		if err != nil {
			return eris.Wrap(err, "pgexport: delete")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("catalog exported",
		zap.Int64("upserted", upserted),
		zap.Int64("deleted", deleted),
	)
	return &Result{Upserted: upserted, Deleted: deleted}, nil
}

// Row converts an entity into the COPY row matching Columns.
func Row(ent model.Entity) ([]any, error) {
	wkb, err := EncodePoint(ent.Geometry)
	if err != nil {
		return nil, eris.Wrapf(err, "pgexport: entity %d", ent.ID)
	}
	added, err := time.Parse(model.DateLayout, ent.DateAdded)
	if err != nil {
		return nil, eris.Wrapf(err, "pgexport: entity %d: date_added %q", ent.ID, ent.DateAdded)
	}
	tags := ent.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	contributor := ent.Contributor
	if contributor == "" {
		contributor = model.UnknownContributor
	}
	return []any{
		ent.ID,
		ent.Geometry.Lon,
		ent.Geometry.Lat,
		wkb,
		tags,
		contributor,
		ent.EditTimestamp,
		added,
	}, nil
}

// EncodePoint returns the EWKB encoding of c with SRID 4326.
func EncodePoint(c model.Coord) ([]byte, error) {
	pt := geom.NewPointFlat(geom.XY, []float64{c.Lon, c.Lat}).SetSRID(4326)
	data, err := ewkb.Marshal(pt, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "pgexport: encode EWKB")
	}
	return data, nil
}
