// Package datasource defines the feature-streaming data access contract the
// validation engine consumes. Concrete format drivers (file geodatabase,
// GeoPackage, shapefile) live behind Provider; the engine never materializes
// a whole table.
package datasource

import (
	"context"
	"strings"

	"github.com/spatialqc/spatialqc/internal/expression"
)

// FieldDef describes one attribute column of a layer.
type FieldDef struct {
	Name string
	Kind expression.TypeKind
}

// Feature is one record of a geospatial table.
type Feature struct {
	ID       int64
	Geometry any
	Fields   map[string]any
}

// OID returns the feature's object id.
func (f *Feature) OID() int64 { return f.ID }

// Field resolves an attribute value by name, case-insensitively.
func (f *Feature) Field(name string) (any, bool) {
	if v, ok := f.Fields[name]; ok {
		return v, true
	}
	for k, v := range f.Fields {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// FeatureIterator is a lazy, forward-only cursor over a layer. It is
// restartable only by opening a new one.
type FeatureIterator interface {
	// Next returns the next feature, or io.EOF once the layer is exhausted.
	Next(ctx context.Context) (*Feature, error)
	Close() error
}

// Provider is the data access collaborator.
type Provider interface {
	Initialize(ctx context.Context, sourcePath string) error
	Layers(ctx context.Context) ([]string, error)
	Schema(ctx context.Context, layer string) ([]FieldDef, error)
	// Stream opens a cursor over layer. filter is a best-effort native
	// predicate the driver may apply or ignore.
	Stream(ctx context.Context, layer string, filter string) (FeatureIterator, error)
	// SupportsKeys reports whether the source format carries primary/foreign
	// key definitions. Flat shapefile-style sources do not.
	SupportsKeys() bool
	Close() error
}

// SchemaOf converts a layer's field list into an evaluation schema.
func SchemaOf(fields []FieldDef) expression.Schema {
	schema := make(expression.Schema, len(fields))
	for _, f := range fields {
		schema[f.Name] = f.Kind
	}
	return schema
}
