package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lampioni/lampioni/internal/fetcher"
)

func TestBuildPostpassSQL_Relation(t *testing.T) {
	sql := BuildPostpassSQL(Query{TagKey: "highway", TagValue: "street_lamp", Area: Area{RelationID: 365331}})
	assert.Equal(t,
		"SELECT p.osm_type, p.osm_id, p.tags, p.geom FROM postpass_point p, postpass_polygon a"+
			" WHERE p.tags->>'highway' = 'street_lamp'"+
			" AND a.osm_type = 'R' AND a.osm_id = 365331 AND ST_Contains(a.geom, p.geom)",
		sql)
	assert.NotContains(t, sql, "ST_Intersects", "lamps on the boundary edge are outside the relation")
}

func TestBuildPostpassSQL_BBox(t *testing.T) {
	sql := BuildPostpassSQL(Query{
		TagKey:   "highway",
		TagValue: "o'clock",
		Area:     Area{BBox: &BBox{South: 35.5, West: 6.5, North: 47.5, East: 19}},
		Output:   OutputIDs,
	})
	assert.Contains(t, sql, "SELECT p.osm_type, p.osm_id, p.geom FROM postpass_point p WHERE")
	assert.Contains(t, sql, "'o''clock'")
	assert.Contains(t, sql, "ST_MakeEnvelope(6.5, 35.5, 19, 47.5, 4326)")
}

func TestParsePostpass(t *testing.T) {
	body := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[9.2,45.1]},
		 "properties":{"osm_type":"N","osm_id":42,"tags":{"highway":"street_lamp","support":"pole"}}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[9.3,45.2]},
		 "properties":{"osm_type":"N","osm_id":"43","tags":"{\"highway\":\"street_lamp\"}"}}
	]}`)

	resp, err := ParsePostpass("postpass", body)
	require.NoError(t, err)

	assert.False(t, resp.HasContributorMetadata)
	assert.Nil(t, resp.DataTimestamp)
	require.Len(t, resp.Elements, 2)

	assert.Equal(t, int64(42), resp.Elements[0].ID)
	assert.Equal(t, 9.2, resp.Elements[0].Lon)
	assert.Equal(t, 45.1, resp.Elements[0].Lat)
	assert.Equal(t, "pole", resp.Elements[0].Tags["support"])
	assert.Empty(t, resp.Elements[0].User)

	assert.Equal(t, int64(43), resp.Elements[1].ID)
	assert.Equal(t, "street_lamp", resp.Elements[1].Tags["highway"])
}

func TestParsePostpass_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":   `upstream timeout`,
		"missing id": `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePostpass("postpass", []byte(body))
			require.Error(t, err)
			assert.True(t, IsMalformed(err))
		})
	}
}

func TestPostpassClient_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Contains(t, r.PostForm.Get("data"), "FROM postpass_point")
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer srv.Close()

	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	c := NewPostpassClient(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{RequestsPerSecond: 100}))
	resp, err := c.Query(context.Background(), Endpoint{Name: "postpass", URL: srv.URL, Kind: KindPostpass},
		Query{TagKey: "highway", TagValue: "street_lamp", Area: Area{RelationID: 1}, NewerThan: &since})
	require.NoError(t, err)
	assert.Empty(t, resp.Elements)
}
