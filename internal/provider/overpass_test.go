package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lampioni/lampioni/internal/fetcher"
	"github.com/lampioni/lampioni/internal/resilience"
)

func TestBuildOverpassQL_Relation(t *testing.T) {
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	ql := BuildOverpassQL(Query{
		TagKey:        "highway",
		TagValue:      "street_lamp",
		Area:          Area{RelationID: 365331},
		NewerThan:     &since,
		Output:        OutputMeta,
		ServerTimeout: 180 * time.Second,
	})

	want := "[out:json][timeout:180];\n" +
		"rel(365331);map_to_area->.searchArea;\n" +
		"node[\"highway\"=\"street_lamp\"](area.searchArea)(newer:\"2026-02-01T00:00:00Z\");\n" +
		"out meta;\n"
	assert.Equal(t, want, ql)
}

func TestBuildOverpassQL_BBoxIDs(t *testing.T) {
	ql := BuildOverpassQL(Query{
		TagKey:   "highway",
		TagValue: "street_lamp",
		Area:     Area{BBox: &BBox{South: 35.5, West: 6.5, North: 47.5, East: 19}},
		Output:   OutputIDs,
	})

	want := "[out:json][timeout:180][bbox:35.5,6.5,47.5,19];\n" +
		"node[\"highway\"=\"street_lamp\"];\n" +
		"out ids;\n"
	assert.Equal(t, want, ql)
}

func TestBuildOverpassQL_Escapes(t *testing.T) {
	ql := BuildOverpassQL(Query{TagKey: `na"me`, TagValue: `a\b`, Area: Area{RelationID: 1}})
	assert.Contains(t, ql, `node["na\"me"="a\\b"]`)
}

func TestParseOverpass(t *testing.T) {
	body := []byte(`{
		"version": 0.6,
		"osm3s": {"timestamp_osm_base": "2026-03-10T11:58:00Z"},
		"elements": [
			{"type":"node","id":42,"lat":45.1,"lon":9.2,"tags":{"highway":"street_lamp","lamp_type":"led"},"user":"alice","timestamp":"2026-03-09T08:00:00Z"},
			{"type":"way","id":7},
			{"type":"node","id":43,"lat":45.2,"lon":9.3}
		]
	}`)

	resp, err := ParseOverpass("kumi", body, true)
	require.NoError(t, err)

	assert.Equal(t, "kumi", resp.Endpoint)
	assert.True(t, resp.HasContributorMetadata)
	require.NotNil(t, resp.DataTimestamp)
	assert.Equal(t, time.Date(2026, 3, 10, 11, 58, 0, 0, time.UTC), resp.DataTimestamp.UTC())

	require.Len(t, resp.Elements, 2)
	el := resp.Elements[0]
	assert.Equal(t, int64(42), el.ID)
	assert.Equal(t, 9.2, el.Lon)
	assert.Equal(t, 45.1, el.Lat)
	assert.Equal(t, "alice", el.User)
	assert.Equal(t, "led", el.Tags["lamp_type"])
	require.NotNil(t, el.Timestamp)
	assert.Equal(t, 9, el.Timestamp.Day())

	assert.Empty(t, resp.Elements[1].User)
	assert.Nil(t, resp.Elements[1].Timestamp)
	assert.Len(t, resp.IDs(), 2)
}

func TestParseOverpass_EmptyElementsIsValid(t *testing.T) {
	resp, err := ParseOverpass("a", []byte(`{"elements":[]}`), true)
	require.NoError(t, err)
	assert.Empty(t, resp.Elements)
	assert.Nil(t, resp.DataTimestamp)
}

func TestParseOverpass_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `<html>Gateway Timeout</html>`,
		"missing elements": `{"osm3s":{"timestamp_osm_base":"2026-03-10T11:58:00Z"}}`,
		"runtime error":    `{"remark":"runtime error: Query timed out in \"query\" at line 3 after 181 seconds.","elements":[]}`,
		"bad timestamp":    `{"osm3s":{"timestamp_osm_base":"yesterday"},"elements":[]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOverpass("a", []byte(body), true)
			require.Error(t, err)
			assert.True(t, IsMalformed(err))
			assert.True(t, resilience.IsTransient(err))
		})
	}
}

func TestOverpassClient_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Contains(t, r.PostForm.Get("data"), "out ids;")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"elements":[{"type":"node","id":1},{"type":"node","id":2}]}`))
	}))
	defer srv.Close()

	c := NewOverpassClient(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{RequestsPerSecond: 100}))
	resp, err := c.Query(context.Background(), Endpoint{Name: "test", URL: srv.URL, Kind: KindOverpass},
		Query{TagKey: "highway", TagValue: "street_lamp", Area: Area{RelationID: 1}, Output: OutputIDs})
	require.NoError(t, err)
	assert.False(t, resp.HasContributorMetadata)
	assert.Equal(t, map[int64]struct{}{1: {}, 2: {}}, resp.IDs())
}

func TestOverpassClient_QueryEncodesForm(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		w.Write([]byte(`{"elements":[]}`))
	}))
	defer srv.Close()

	c := NewOverpassClient(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{RequestsPerSecond: 100}))
	_, err := c.Query(context.Background(), Endpoint{Name: "test", URL: srv.URL},
		Query{TagKey: "highway", TagValue: "street_lamp", Area: Area{RelationID: 365331}})
	require.NoError(t, err)
	assert.Contains(t, got.Get("data"), "rel(365331)")
}
