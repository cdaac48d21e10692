package validation

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"github.com/spatialqc/spatialqc/internal/rules"
)

// GeometryCheckKind is the closed set of stage-3 sub-checks. Configuration
// flags resolve to kinds once at load time; unknown flags map to
// GeometryCheckUnrecognized and are reported, not silently dropped.
type GeometryCheckKind string

const (
	GeometryCheckDuplicate        GeometryCheckKind = "duplicate"
	GeometryCheckOverlap          GeometryCheckKind = "overlap"
	GeometryCheckSelfIntersection GeometryCheckKind = "self-intersection"
	GeometryCheckSliver           GeometryCheckKind = "sliver"
	GeometryCheckUnrecognized     GeometryCheckKind = "unrecognized"
)

var geometryCheckKinds = map[string]GeometryCheckKind{
	"duplicate":        GeometryCheckDuplicate,
	"overlap":          GeometryCheckOverlap,
	"selfintersection": GeometryCheckSelfIntersection,
	"sliver":           GeometryCheckSliver,
}

// ParseGeometryCheckKind resolves a configuration flag name.
func ParseGeometryCheckKind(name string) GeometryCheckKind {
	key := strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(name, "-", ""), "_", ""))
	if kind, ok := geometryCheckKinds[key]; ok {
		return kind
	}
	return GeometryCheckUnrecognized
}

// TableSection configures the stage-1 sub-checks.
type TableSection struct {
	ExpectedLayers   []string          `json:"expectedLayers,omitempty"`
	CoordinateSystem string            `json:"coordinateSystem,omitempty"`
	GeometryTypes    map[string]string `json:"geometryTypes,omitempty"`
}

// SchemaSection configures the stage-2 sub-checks.
type SchemaSection struct {
	Columns map[string][]string `json:"columns,omitempty"`
}

// GeometrySection configures stage 3: which sub-checks run and their
// numeric thresholds.
type GeometrySection struct {
	Checks           map[string]bool `json:"checks,omitempty"`
	SliverThreshold  float64         `json:"sliverThreshold,omitempty"`
	OverlapTolerance float64         `json:"overlapTolerance,omitempty"`
}

// EnabledKinds resolves the configured flags into check kinds, in a stable
// order. Unrecognized flag names resolve to GeometryCheckUnrecognized.
func (g *GeometrySection) EnabledKinds() []GeometryCheckKind {
	if g == nil {
		return nil
	}
	ordered := []GeometryCheckKind{
		GeometryCheckDuplicate,
		GeometryCheckOverlap,
		GeometryCheckSelfIntersection,
		GeometryCheckSliver,
	}
	resolved := make(map[GeometryCheckKind]bool, len(g.Checks))
	sawUnrecognized := false
	for name, enabled := range g.Checks {
		if !enabled {
			continue
		}
		kind := ParseGeometryCheckKind(name)
		if kind == GeometryCheckUnrecognized {
			sawUnrecognized = true
			continue
		}
		resolved[kind] = true
	}
	var kinds []GeometryCheckKind
	for _, k := range ordered {
		if resolved[k] {
			kinds = append(kinds, k)
		}
	}
	if sawUnrecognized {
		kinds = append(kinds, GeometryCheckUnrecognized)
	}
	return kinds
}

// RelationRuleRow is one stage-4 configuration row delegated to the
// relation checker.
type RelationRuleRow struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
	Layer      string `json:"layer,omitempty"`
	Severity   string `json:"severity,omitempty"`
	Enabled    bool   `json:"enabled"`
}

// Disabled reports whether the row must be skipped. A rule id beginning
// with '#' is a comment row, disabled regardless of its enabled flag.
func (r RelationRuleRow) Disabled() bool {
	return !r.Enabled || strings.HasPrefix(r.ID, "#")
}

// AttributeRuleGroup binds a set of engine-evaluated rules to one layer.
type AttributeRuleGroup struct {
	Layer string                  `json:"layer"`
	Rules []rules.ConditionalRule `json:"rules"`
}

// RelationSection configures stage 4: checker-delegated rows plus
// attribute-level rules evaluated by the rule engine.
type RelationSection struct {
	Rules          []RelationRuleRow    `json:"rules,omitempty"`
	AttributeRules []AttributeRuleGroup `json:"attributeRules,omitempty"`
}

// RunConfig is the complete per-run check and rule configuration.
type RunConfig struct {
	Table    *TableSection    `json:"table,omitempty"`
	Schema   *SchemaSection   `json:"schema,omitempty"`
	Geometry *GeometrySection `json:"geometry,omitempty"`
	Relation *RelationSection `json:"relation,omitempty"`
}

// FileConfigLoader reads a RunConfig from a YAML file.
type FileConfigLoader struct {
	Path string
	log  *zap.SugaredLogger
}

func NewFileConfigLoader(path string) *FileConfigLoader {
	return &FileConfigLoader{Path: path, log: zap.S().Named("validation")}
}

func (l *FileConfigLoader) Load(_ context.Context) (*RunConfig, error) {
	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading stage configuration %q", l.Path)
	}
	cfg := &RunConfig{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing stage configuration %q", l.Path)
	}
	l.log.Infof("loaded stage configuration from %s", l.Path)
	return cfg, nil
}

// StaticConfigLoader serves a fixed RunConfig. Used by tests and the CLI's
// local mode.
type StaticConfigLoader struct {
	Config *RunConfig
}

func (l *StaticConfigLoader) Load(_ context.Context) (*RunConfig, error) {
	if l.Config == nil {
		return &RunConfig{}, nil
	}
	return l.Config, nil
}
