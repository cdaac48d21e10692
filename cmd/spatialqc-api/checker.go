package main

import (
	"context"

	"github.com/spatialqc/spatialqc/internal/validation"
)

// passChecker stands in for format-specific checker collaborators until a
// driver (file geodatabase, GeoPackage) is mounted. Every check passes;
// attribute-relation rules still run through the rule engine.
type passChecker struct{}

func pass() (*validation.CheckOutcome, error) {
	return &validation.CheckOutcome{IsValid: true}, nil
}

func (passChecker) CheckTableList(ctx context.Context, path string, cfg *validation.TableSection) (*validation.CheckOutcome, error) {
	return pass()
}

func (passChecker) CheckCoordinateSystem(ctx context.Context, path string, cfg *validation.TableSection) (*validation.CheckOutcome, error) {
	return pass()
}

func (passChecker) CheckGeometryTypes(ctx context.Context, path string, cfg *validation.TableSection) (*validation.CheckOutcome, error) {
	return pass()
}

func (passChecker) CheckColumnStructure(ctx context.Context, path string, cfg *validation.SchemaSection) (*validation.CheckOutcome, error) {
	return pass()
}

func (passChecker) CheckDataTypes(ctx context.Context, path string, cfg *validation.SchemaSection) (*validation.CheckOutcome, error) {
	return pass()
}

func (passChecker) CheckPrimaryKeys(ctx context.Context, path string, cfg *validation.SchemaSection) (*validation.CheckOutcome, error) {
	return pass()
}

func (passChecker) CheckForeignKeys(ctx context.Context, path string, cfg *validation.SchemaSection) (*validation.CheckOutcome, error) {
	return pass()
}

func (passChecker) Check(ctx context.Context, path string, kind validation.GeometryCheckKind, cfg *validation.GeometrySection) (*validation.CheckOutcome, error) {
	return pass()
}

func (passChecker) CheckRule(ctx context.Context, path string, row validation.RelationRuleRow) (*validation.CheckOutcome, error) {
	return pass()
}

func (passChecker) DropCaches() {}
