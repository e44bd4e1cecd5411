package prune

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/lampioni/lampioni/internal/datadir"
	"github.com/lampioni/lampioni/internal/model"
	"github.com/lampioni/lampioni/internal/provider"
	"github.com/lampioni/lampioni/internal/store"
)

var pruneNow = time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)

type stubSource struct {
	resp    *provider.Response
	err     error
	queries []provider.Query
}

func (s *stubSource) Select(_ context.Context, q provider.Query) (*provider.Response, error) {
	s.queries = append(s.queries, q)
	return s.resp, s.err
}

func idsResponse(ids ...int64) *provider.Response {
	resp := &provider.Response{Endpoint: "overpass-api.de"}
	for _, id := range ids {
		resp.Elements = append(resp.Elements, provider.RawElement{Type: "node", ID: id})
	}
	return resp
}

func feature(id int64) *geojson.Feature {
	return &geojson.Feature{
		ID:         "node/" + strconv.FormatInt(id, 10),
		Geometry:   geom.NewPointFlat(geom.XY, []float64{9, 45}),
		Properties: map[string]interface{}{"osm_type": "node", "osm_id": float64(id)},
	}
}

// seeded returns a directory with baseline ids 1..4 and new entities 10, 11, 12.
func seeded(t *testing.T) *datadir.Dir {
	t.Helper()
	d := datadir.New(filepath.Join(t.TempDir(), "data"))
	_, err := d.Seed(&geojson.FeatureCollection{Features: []*geojson.Feature{
		feature(1), feature(2), feature(3), feature(4),
	}}, pruneNow.Add(-48*time.Hour), false)
	require.NoError(t, err)

	c, err := d.Load(context.Background())
	require.NoError(t, err)
	c.NewEntities = []model.Entity{
		{ID: 10, Contributor: "alice", DateAdded: "2026-02-03"},
		{ID: 11, Contributor: "bob", DateAdded: "2026-02-04"},
		{ID: 12, Contributor: "alice", DateAdded: "2026-02-05"},
	}
	c.NewIDs = map[string][]int64{"2026-03-10": {10, 11, 12}}
	require.NoError(t, d.Save(c, model.Summary{LastUpdated: "2026-03-10T00:00:00Z"}))
	return d
}

func TestFilter(t *testing.T) {
	c := model.Catalog{
		BaselineIDs: []int64{1, 2, 3},
		NewIDs:      map[string][]int64{"2026-03-01": {10, 11}, "2026-03-02": {11}},
		NewEntities: []model.Entity{
			{ID: 11, DateAdded: "2026-03-01"},
			{ID: 10, DateAdded: "2026-03-01"},
		},
	}
	valid := map[int64]struct{}{1: {}, 3: {}, 10: {}, 99: {}}

	out, r := Filter(c, valid)

	assert.Equal(t, []int64{1, 3}, out.BaselineIDs)
	require.Len(t, out.NewEntities, 1)
	assert.Equal(t, int64(10), out.NewEntities[0].ID)
	assert.Equal(t, "2026-03-01", out.NewEntities[0].DateAdded)
	assert.Equal(t, map[string][]int64{"2026-03-01": {10}, "2026-03-02": {}}, out.NewIDs)

	assert.Equal(t, 4, r.ValidIDs)
	assert.Equal(t, 1, r.BaselineIDsRemoved)
	assert.Equal(t, 1, r.NewRemoved)
	assert.Equal(t, 2, r.Removed())
	assert.Equal(t, 2, r.BaselineCount)
	assert.Equal(t, 1, r.NewCount)

	// Input is untouched.
	assert.Len(t, c.BaselineIDs, 3)
	assert.Len(t, c.NewEntities, 2)
}

func TestFilterFeatures(t *testing.T) {
	noID := &geojson.Feature{Geometry: geom.NewPointFlat(geom.XY, []float64{0, 0})}
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{feature(1), feature(2), noID}}

	out, before, removed := FilterFeatures(fc, map[int64]struct{}{2: {}})
	assert.Equal(t, 3, before)
	assert.Equal(t, 2, removed)
	require.Len(t, out.Features, 1)
	assert.Equal(t, "node/2", out.Features[0].ID)
}

func TestRun_PrunesEveryArtifact(t *testing.T) {
	d := seeded(t)
	src := &stubSource{resp: idsResponse(1, 2, 10, 12, 500)}
	st, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	q := provider.Query{TagKey: "highway", TagValue: "street_lamp", Area: provider.Area{RelationID: 365331}}
	report, err := New(d, src, st, q).Run(context.Background(), Options{Now: pruneNow})
	require.NoError(t, err)

	require.Len(t, src.queries, 1)
	assert.Equal(t, provider.OutputIDs, src.queries[0].Output)
	assert.Nil(t, src.queries[0].NewerThan)
	assert.Equal(t, int64(365331), src.queries[0].Area.RelationID)

	assert.Equal(t, 2, report.BaselineIDsRemoved)
	assert.Equal(t, 2, report.BaselineFeaturesRemoved)
	assert.Equal(t, 1, report.NewRemoved)
	assert.Equal(t, 2, report.BaselineCount)
	assert.Equal(t, 2, report.NewCount)

	c, err := d.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, c.BaselineIDs)
	assert.Equal(t, map[string][]int64{"2026-03-10": {10, 12}}, c.NewIDs)
	require.Len(t, c.NewEntities, 2)
	assert.Equal(t, int64(12), c.NewEntities[0].ID)
	assert.Equal(t, "2026-02-05", c.NewEntities[0].DateAdded)

	base, err := d.LoadBaseline()
	require.NoError(t, err)
	assert.Len(t, base.Features, 2)

	s, err := d.LoadSummary()
	require.NoError(t, err)
	assert.Equal(t, 2, s.BaselineCount)
	assert.Equal(t, 2, s.NewCount)
	assert.Equal(t, "2026-03-12T08:00:00Z", s.LastUpdated)
	assert.Equal(t, []model.LeaderboardEntry{{User: "alice", Count: 2}}, s.Leaderboard)

	run, err := st.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunKindPrune, run.Kind)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, 3, run.Result.Removed)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	d := seeded(t)
	before, err := d.Load(context.Background())
	require.NoError(t, err)

	report, err := New(d, &stubSource{resp: idsResponse(1)}, nil, provider.Query{}).Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 3, report.BaselineIDsRemoved)
	assert.Equal(t, 3, report.NewRemoved)

	after, err := d.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_EmptyValidSet(t *testing.T) {
	d := seeded(t)
	before, err := d.Load(context.Background())
	require.NoError(t, err)

	_, err = New(d, &stubSource{resp: idsResponse()}, nil, provider.Query{}).Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyValidSet))

	after, err := d.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_ProviderExhausted(t *testing.T) {
	d := seeded(t)
	_, err := New(d, &stubSource{err: &provider.ExhaustedError{}}, nil, provider.Query{}).Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrAllProvidersExhausted))
}

func TestRun_WithoutBaselineFile(t *testing.T) {
	d := datadir.New(t.TempDir())
	c := model.Catalog{BaselineIDs: []int64{1, 2}, NewIDs: map[string][]int64{}}
	require.NoError(t, d.Save(&c, model.Summary{LastUpdated: "2026-03-10T00:00:00Z"}))

	report, err := New(d, &stubSource{resp: idsResponse(2)}, nil, provider.Query{}).Run(context.Background(), Options{Now: pruneNow})
	require.NoError(t, err)
	assert.Zero(t, report.BaselineFeaturesBefore)
	assert.Equal(t, 1, report.BaselineIDsRemoved)

	base, err := d.LoadBaseline()
	require.NoError(t, err)
	assert.Nil(t, base)
}
