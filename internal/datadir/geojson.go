package datadir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/lampioni/lampioni/internal/model"
)

// Feature property names written for every entity.
const (
	propOSMType   = "osm_type"
	propOSMID     = "osm_id"
	propUser      = "user"
	propTimestamp = "timestamp"
	propDateAdded = "date_added"
)

var reservedProps = map[string]bool{
	propOSMType: true, propOSMID: true, propUser: true, propTimestamp: true, propDateAdded: true,
}

// EntityFeature converts an entity to a GeoJSON point feature.
func EntityFeature(e model.Entity) *geojson.Feature {
	props := make(map[string]interface{}, len(e.Tags)+5)
	for k, v := range e.Tags {
		props[k] = v
	}
	props[propOSMType] = "node"
	props[propOSMID] = e.ID
	user := e.Contributor
	if user == "" {
		user = model.UnknownContributor
	}
	props[propUser] = user
	props[propTimestamp] = ""
	if e.EditTimestamp != nil {
		props[propTimestamp] = e.EditTimestamp.UTC().Format(time.RFC3339)
	}
	props[propDateAdded] = e.DateAdded

	return &geojson.Feature{
		ID:         fmt.Sprintf("node/%d", e.ID),
		Geometry:   geom.NewPointFlat(geom.XY, []float64{e.Geometry.Lon, e.Geometry.Lat}),
		Properties: props,
	}
}

// FeatureEntity converts a feature written by EntityFeature back.
func FeatureEntity(f *geojson.Feature) (model.Entity, error) {
	id, ok := FeatureOSMID(f)
	if !ok {
		return model.Entity{}, eris.New("feature without osm_id")
	}
	pt, ok := f.Geometry.(*geom.Point)
	if !ok || pt == nil {
		return model.Entity{}, eris.Errorf("feature %d: geometry is not a point", id)
	}

	e := model.Entity{
		ID:          id,
		Geometry:    model.Coord{Lon: pt.X(), Lat: pt.Y()},
		Contributor: model.UnknownContributor,
	}
	if user, _ := f.Properties[propUser].(string); user != "" {
		e.Contributor = user
	}
	if ts, _ := f.Properties[propTimestamp].(string); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return model.Entity{}, eris.Wrapf(err, "feature %d: timestamp", id)
		}
		parsed = parsed.UTC()
		e.EditTimestamp = &parsed
	}
	e.DateAdded, _ = f.Properties[propDateAdded].(string)
	if e.DateAdded == "" {
		return model.Entity{}, eris.Errorf("feature %d: missing date_added", id)
	}

	for k, v := range f.Properties {
		if reservedProps[k] {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if e.Tags == nil {
			e.Tags = make(map[string]string)
		}
		e.Tags[k] = s
	}
	return e, nil
}

// FeatureOSMID extracts the osm_id property, tolerating numeric and string
// encodings.
func FeatureOSMID(f *geojson.Feature) (int64, bool) {
	if f == nil {
		return 0, false
	}
	switch v := f.Properties[propOSMID].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		id, err := v.Int64()
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil
	}
	// Fall back to "node/<id>" feature ids.
	if _, rest, ok := strings.Cut(f.ID, "/"); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		return id, err == nil
	}
	return 0, false
}

var errNoFeatures = eris.New("missing features")

// DecodeFeatureCollection parses a GeoJSON FeatureCollection. A document
// without a features array is rejected rather than read as empty.
func DecodeFeatureCollection(data []byte) (*geojson.FeatureCollection, error) {
	var keys struct {
		Features *json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	if keys.Features == nil {
		return nil, errNoFeatures
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// EncodeFeatureLines writes a FeatureCollection with one feature per line so
// daily diffs touch only the lines of changed features.
func EncodeFeatureLines(features []*geojson.Feature) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"FeatureCollection","features":[` + "\n")
	for i, f := range features {
		line, err := json.Marshal(f)
		if err != nil {
			return nil, eris.Wrapf(err, "datadir: encode feature %s", f.ID)
		}
		buf.Write(line)
		if i < len(features)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("]}\n")
	return buf.Bytes(), nil
}

func decodeEntities(data []byte) ([]model.Entity, error) {
	fc, err := DecodeFeatureCollection(data)
	if errors.Is(err, errNoFeatures) {
		return nil, malformed(NewEntitiesFile, "missing features")
	}
	if err != nil {
		return nil, malformed(NewEntitiesFile, "decode: %v", err)
	}
	entities := make([]model.Entity, 0, len(fc.Features))
	seen := make(map[int64]struct{}, len(fc.Features))
	for i, f := range fc.Features {
		e, err := FeatureEntity(f)
		if err != nil {
			return nil, malformed(NewEntitiesFile, "feature %d: %v", i, err)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, malformed(NewEntitiesFile, "duplicate id %d", e.ID)
		}
		seen[e.ID] = struct{}{}
		entities = append(entities, e)
	}
	return entities, nil
}

func encodeEntities(entities []model.Entity) ([]byte, error) {
	sorted := append([]model.Entity(nil), entities...)
	model.SortEntities(sorted)
	features := make([]*geojson.Feature, len(sorted))
	for i, e := range sorted {
		features[i] = EntityFeature(e)
	}
	return EncodeFeatureLines(features)
}
