package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/lampioni/lampioni/internal/fetcher"
)

// PostpassClient queries a Postpass SQL endpoint. Postpass has no editor
// metadata and no replication timestamp, and cannot filter by edit time.
type PostpassClient struct {
	fetcher fetcher.Fetcher
}

// NewPostpassClient creates a Postpass client on top of f.
func NewPostpassClient(f fetcher.Fetcher) *PostpassClient {
	return &PostpassClient{fetcher: f}
}

// BuildPostpassSQL renders q as a Postpass SQL statement.
func BuildPostpassSQL(q Query) string {
	var b strings.Builder
	cols := "p.osm_type, p.osm_id, p.tags, p.geom"
	if q.Output == OutputIDs {
		cols = "p.osm_type, p.osm_id, p.geom"
	}
	fmt.Fprintf(&b, "SELECT %s FROM postpass_point p", cols)
	if q.Area.RelationID != 0 {
		b.WriteString(", postpass_polygon a")
	}
	fmt.Fprintf(&b, " WHERE p.tags->>%s = %s", sqlString(q.TagKey), sqlString(q.TagValue))
	switch {
	case q.Area.RelationID != 0:
		fmt.Fprintf(&b, " AND a.osm_type = 'R' AND a.osm_id = %d AND ST_Contains(a.geom, p.geom)", q.Area.RelationID)
	case q.Area.BBox != nil:
		bb := q.Area.BBox
		fmt.Fprintf(&b, " AND p.geom && ST_MakeEnvelope(%s, %s, %s, %s, 4326)",
			fmtCoord(bb.West), fmtCoord(bb.South), fmtCoord(bb.East), fmtCoord(bb.North))
	}
	return b.String()
}

// sqlString quotes s as a SQL string literal.
func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Query runs q against ep.
func (c *PostpassClient) Query(ctx context.Context, ep Endpoint, q Query) (*Response, error) {
	if q.NewerThan != nil {
		zap.L().Debug("postpass: cannot filter by edit time, fetching full set",
			zap.String("endpoint", ep.Name),
		)
	}
	body, err := c.fetcher.PostForm(ctx, ep.URL, url.Values{"data": {BuildPostpassSQL(q)}})
	if err != nil {
		return nil, err
	}
	return ParsePostpass(ep.Name, body)
}

// ParsePostpass decodes a Postpass GeoJSON FeatureCollection.
func ParsePostpass(endpoint string, body []byte) (*Response, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, malformed(endpoint, "decode geojson: %v", err)
	}

	resp := &Response{
		Endpoint: endpoint,
		Elements: make([]RawElement, 0, len(fc.Features)),
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		if t, _ := f.Properties["osm_type"].(string); t != "" && t != "N" && t != "node" {
			continue
		}
		id, ok := propertyInt64(f.Properties["osm_id"])
		if !ok {
			return nil, malformed(endpoint, "feature without osm_id")
		}
		pt, ok := f.Geometry.(*geom.Point)
		if !ok || pt == nil {
			return nil, malformed(endpoint, "feature %d is not a point", id)
		}
		resp.Elements = append(resp.Elements, RawElement{
			Type: "node",
			ID:   id,
			Lon:  pt.X(),
			Lat:  pt.Y(),
			Tags: propertyTags(f.Properties["tags"]),
		})
	}
	return resp, nil
}

func propertyInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// propertyTags accepts tags as a JSON object or as a JSON-encoded string.
func propertyTags(v any) map[string]string {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]string, len(t))
		for k, val := range t {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	case string:
		var out map[string]string
		if err := json.Unmarshal([]byte(t), &out); err == nil {
			return out
		}
	}
	return nil
}
