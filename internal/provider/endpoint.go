package provider

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Kind names the query dialect an endpoint speaks.
type Kind string

const (
	// KindOverpass speaks Overpass QL and returns edit metadata with `out meta`.
	KindOverpass Kind = "overpass"
	// KindPostpass speaks SQL against a PostGIS replica and returns GeoJSON
	// without editor metadata.
	KindPostpass Kind = "postpass"
)

// ParseKind validates a configured provider kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindOverpass:
		return KindOverpass, nil
	case KindPostpass:
		return KindPostpass, nil
	default:
		return "", eris.Errorf("provider: unknown kind %q (valid: overpass, postpass)", s)
	}
}

// DefaultTimeout is the per-endpoint client deadline.
const DefaultTimeout = 5 * time.Minute

// Endpoint describes one upstream mirror in the priority list.
type Endpoint struct {
	Name    string
	URL     string
	Kind    Kind
	Timeout time.Duration
}

// OutputMode selects full records or ids only.
type OutputMode int

const (
	// OutputMeta asks for coordinates, tags and edit metadata.
	OutputMeta OutputMode = iota
	// OutputIDs asks for element ids only.
	OutputIDs
)

// BBox is a south,west,north,east bounding box in degrees.
type BBox struct {
	South float64
	West  float64
	North float64
	East  float64
}

// ParseBBox parses "south,west,north,east".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, eris.Errorf("provider: bbox %q must be south,west,north,east", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, eris.Wrapf(err, "provider: bbox %q", s)
		}
		vals[i] = v
	}
	b := BBox{South: vals[0], West: vals[1], North: vals[2], East: vals[3]}
	if b.South >= b.North || b.West >= b.East {
		return BBox{}, eris.Errorf("provider: bbox %q is empty", s)
	}
	return b, nil
}

// Area is the spatial boundary of a query. A relation wins over a bbox.
type Area struct {
	RelationID int64
	BBox       *BBox
}

// Query is the declarative request sent to every endpoint.
type Query struct {
	TagKey   string
	TagValue string
	Area     Area
	// NewerThan restricts to elements edited after the instant. Dialects that
	// cannot express it return a superset.
	NewerThan *time.Time
	Output    OutputMode
	// ServerTimeout is the server-side evaluation budget.
	ServerTimeout time.Duration
}

// RawElement is one record as reported by a provider.
type RawElement struct {
	Type      string
	ID        int64
	Lon       float64
	Lat       float64
	Tags      map[string]string
	User      string
	Timestamp *time.Time
}

// Response is a structurally valid answer from one endpoint.
type Response struct {
	Endpoint string
	Elements []RawElement
	// DataTimestamp is the provider's replication instant, when it declares one.
	DataTimestamp *time.Time
	// HasContributorMetadata is false for dialects that never return editor
	// names or edit times; the merger keeps prior contributors in that case.
	HasContributorMetadata bool
}

// IDs returns the node ids present in the response.
func (r *Response) IDs() map[int64]struct{} {
	ids := make(map[int64]struct{}, len(r.Elements))
	for _, el := range r.Elements {
		if el.Type != "" && el.Type != "node" {
			continue
		}
		ids[el.ID] = struct{}{}
	}
	return ids
}
