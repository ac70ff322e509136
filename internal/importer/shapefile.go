package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	shp "github.com/jonas-p/go-shp"

	"github.com/SimonWaldherr/dmdb"
)

// GeometryColumn holds each feature's geometry as GeoJSON text.
const GeometryColumn = "geometry"

// ImportShapefile imports a .shp file and its DBF attribute table. Every
// attribute becomes a column typed by the usual inference and the shape is
// stored as GeoJSON in GeometryColumn.
func ImportShapefile(ctx context.Context, conn *dmdb.Conn, tableName, filePath string, opts *ImportOptions) (*ImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{CreateTable: true}
	}
	o := *opts
	applyDefaults(&o)
	if tableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	r, err := shp.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	fields := r.Fields()
	names := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		names = append(names, f.String())
	}
	names = append(names, GeometryColumn)

	result := &ImportResult{
		Errors:      make([]string, 0),
		Encoding:    "dbf",
		HadHeader:   true,
		ColumnNames: sanitizeColumnNames(names),
	}

	var records [][]string
	for r.Next() {
		idx, shape := r.Shape()
		rec := make([]string, 0, len(fields)+1)
		for fi := range fields {
			rec = append(rec, strings.TrimSpace(strings.Trim(r.ReadAttribute(idx, fi), "\x00")))
		}
		geom, err := geoJSON(shape)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("feature %d: %v", idx, err))
		}
		rec = append(rec, geom)
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no features found in shapefile %s", filepath.Base(filePath))
	}
	return load(ctx, conn, tableName, records, result, &o)
}

// geoJSON renders a shape as a GeoJSON geometry object. Unsupported shape
// types yield the empty string, which imports as NULL.
func geoJSON(shape shp.Shape) (string, error) {
	var geom map[string]any
	switch s := shape.(type) {
	case *shp.Point:
		geom = map[string]any{"type": "Point", "coordinates": []float64{s.X, s.Y}}
	case *shp.MultiPoint:
		geom = map[string]any{"type": "MultiPoint", "coordinates": coords(s.Points)}
	case *shp.PolyLine:
		lines := split(s.Parts, s.Points)
		if len(lines) == 1 {
			geom = map[string]any{"type": "LineString", "coordinates": lines[0]}
		} else {
			geom = map[string]any{"type": "MultiLineString", "coordinates": lines}
		}
	case *shp.Polygon:
		geom = map[string]any{"type": "Polygon", "coordinates": split(s.Parts, s.Points)}
	default:
		return "", nil
	}
	b, err := json.Marshal(geom)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func coords(points []shp.Point) [][]float64 {
	out := make([][]float64, len(points))
	for i, p := range points {
		out[i] = []float64{p.X, p.Y}
	}
	return out
}

// split cuts points into the parts starting at the given offsets.
func split(parts []int32, points []shp.Point) [][][]float64 {
	if len(parts) == 0 {
		return [][][]float64{coords(points)}
	}
	out := make([][][]float64, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || end > int32(len(points)) {
			break
		}
		out = append(out, coords(points[start:end]))
	}
	return out
}
