package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lampioni/lampioni/internal/fetcher"
	"github.com/lampioni/lampioni/internal/resilience"
)

// OverpassClient queries Overpass API instances.
type OverpassClient struct {
	fetcher fetcher.Fetcher
}

// NewOverpassClient creates an Overpass client on top of f.
func NewOverpassClient(f fetcher.Fetcher) *OverpassClient {
	return &OverpassClient{fetcher: f}
}

// BuildOverpassQL renders q as an Overpass QL script.
func BuildOverpassQL(q Query) string {
	var b strings.Builder

	timeout := q.ServerTimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	fmt.Fprintf(&b, "[out:json][timeout:%d]", int(timeout.Seconds()))

	useBBox := q.Area.RelationID == 0 && q.Area.BBox != nil
	if useBBox {
		bb := q.Area.BBox
		fmt.Fprintf(&b, "[bbox:%s,%s,%s,%s]", fmtCoord(bb.South), fmtCoord(bb.West), fmtCoord(bb.North), fmtCoord(bb.East))
	}
	b.WriteString(";\n")

	if q.Area.RelationID != 0 {
		fmt.Fprintf(&b, "rel(%d);map_to_area->.searchArea;\n", q.Area.RelationID)
	}

	fmt.Fprintf(&b, "node[%s=%s]", qlString(q.TagKey), qlString(q.TagValue))
	if q.Area.RelationID != 0 {
		b.WriteString("(area.searchArea)")
	}
	if q.NewerThan != nil {
		fmt.Fprintf(&b, "(newer:%s)", qlString(q.NewerThan.UTC().Format(time.RFC3339)))
	}
	b.WriteString(";\n")

	if q.Output == OutputIDs {
		b.WriteString("out ids;\n")
	} else {
		b.WriteString("out meta;\n")
	}
	return b.String()
}

func fmtCoord(v float64) string {
	return fmt.Sprintf("%g", v)
}

// qlString quotes s as an Overpass QL string literal.
func qlString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

type overpassResponse struct {
	Remark string `json:"remark"`
	OSM3S  struct {
		TimestampOSMBase string `json:"timestamp_osm_base"`
	} `json:"osm3s"`
	Elements *[]overpassElement `json:"elements"`
}

type overpassElement struct {
	Type      string            `json:"type"`
	ID        int64             `json:"id"`
	Lat       float64           `json:"lat"`
	Lon       float64           `json:"lon"`
	Tags      map[string]string `json:"tags"`
	User      string            `json:"user"`
	Timestamp string            `json:"timestamp"`
}

// Query runs q against ep.
func (c *OverpassClient) Query(ctx context.Context, ep Endpoint, q Query) (*Response, error) {
	body, err := c.fetcher.PostForm(ctx, ep.URL, url.Values{"data": {BuildOverpassQL(q)}})
	if err != nil {
		return nil, err
	}
	return ParseOverpass(ep.Name, body, q.Output == OutputMeta)
}

// ParseOverpass decodes an Overpass JSON body.
func ParseOverpass(endpoint string, body []byte, withMeta bool) (*Response, error) {
	var raw overpassResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, malformed(endpoint, "decode json: %v", err)
	}
	// Overpass reports server-side failures inside an otherwise successful body.
	if strings.Contains(raw.Remark, "runtime error") {
		return nil, malformed(endpoint, "remark: %s", raw.Remark)
	}
	if raw.Elements == nil {
		return nil, malformed(endpoint, "missing elements")
	}

	resp := &Response{
		Endpoint:               endpoint,
		Elements:               make([]RawElement, 0, len(*raw.Elements)),
		HasContributorMetadata: withMeta,
	}
	if raw.OSM3S.TimestampOSMBase != "" {
		ts, err := time.Parse(time.RFC3339, raw.OSM3S.TimestampOSMBase)
		if err != nil {
			return nil, malformed(endpoint, "timestamp_osm_base %q", raw.OSM3S.TimestampOSMBase)
		}
		resp.DataTimestamp = &ts
	}

	for _, el := range *raw.Elements {
		if el.Type != "node" {
			continue
		}
		re := RawElement{
			Type: el.Type,
			ID:   el.ID,
			Lon:  el.Lon,
			Lat:  el.Lat,
			Tags: el.Tags,
			User: el.User,
		}
		if el.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339, el.Timestamp); err == nil {
				re.Timestamp = &ts
			}
		}
		resp.Elements = append(resp.Elements, re)
	}
	return resp, nil
}

func malformed(endpoint, format string, args ...any) error {
	return resilience.NewTransientError(
		eris.Wrapf(ErrMalformed, "provider %s: "+format, append([]any{endpoint}, args...)...), 0)
}
