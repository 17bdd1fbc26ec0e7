package schema

import (
	"fmt"
	"strings"

	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
)

// ValidationError represents a catalog validation error.
type ValidationError struct {
	Table   string
	Column  string
	Message string
	// Breaking indicates if this is a breaking change.
	Breaking bool
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of catalog validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// HasBreakingChanges returns true if there are any breaking changes.
func (r *ValidationResult) HasBreakingChanges() bool {
	for _, e := range r.Errors {
		if e.Breaking {
			return true
		}
	}
	for _, w := range r.Warnings {
		if w.Breaking {
			return true
		}
	}
	return false
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	write := func(title string, list []*ValidationError) {
		if len(list) == 0 {
			return
		}
		sb.WriteString(title)
		sb.WriteString(":\n")
		for _, e := range list {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			if e.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	write("Errors", r.Errors)
	write("Warnings", r.Warnings)
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

func (r *ValidationResult) merge(o *ValidationResult) {
	r.Errors = append(r.Errors, o.Errors...)
	r.Warnings = append(r.Warnings, o.Warnings...)
}

// ValidateOption configures catalog validation.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	allowDropColumn    bool
	allowDropTable     bool
	allowNullToNotNull bool
}

// AllowDropColumn allows dropping columns without error.
func AllowDropColumn() ValidateOption {
	return func(c *validateConfig) {
		c.allowDropColumn = true
	}
}

// AllowDropTable allows dropping tables without error.
func AllowDropTable() ValidateOption {
	return func(c *validateConfig) {
		c.allowDropTable = true
	}
}

// AllowNullToNotNull allows changing nullable columns to not null.
func AllowNullToNotNull() ValidateOption {
	return func(c *validateConfig) {
		c.allowNullToNotNull = true
	}
}

// ValidateDiff validates the difference between the current and the desired
// catalog. It returns errors for breaking changes and warnings for
// potentially dangerous ones.
//
// Example:
//
//	result := schema.ValidateDiff(current.Tables(), desired.Tables())
//	if result.HasBreakingChanges() {
//	    log.Fatal("breaking changes detected:", result)
//	}
func ValidateDiff(current, desired []*expr.Table, opts ...ValidateOption) *ValidationResult {
	cfg := &validateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	result := &ValidationResult{}
	desiredMap := make(map[string]*expr.Table, len(desired))
	for _, t := range desired {
		desiredMap[t.Name] = t
	}
	for _, t := range current {
		d, ok := desiredMap[t.Name]
		if !ok {
			result.report(&ValidationError{
				Table:    t.Name,
				Message:  "table will be dropped",
				Breaking: true,
			}, cfg.allowDropTable)
			continue
		}
		validateTableDiff(t, d, cfg, result)
	}
	return result
}

// report records err as a warning when allowed, else as an error.
func (r *ValidationResult) report(err *ValidationError, allowed bool) {
	if allowed {
		r.Warnings = append(r.Warnings, err)
	} else {
		r.Errors = append(r.Errors, err)
	}
}

func validateTableDiff(current, desired *expr.Table, cfg *validateConfig, result *ValidationResult) {
	for _, c := range current.Columns() {
		if column(desired, c.Name) == nil {
			result.report(&ValidationError{
				Table:    current.Name,
				Column:   c.Name,
				Message:  "column will be dropped",
				Breaking: true,
			}, cfg.allowDropColumn)
		}
	}
	for _, dc := range desired.Columns() {
		cc := column(current, dc.Name)
		if cc == nil {
			if !dc.IsNullable() && dc.DefaultValue() == nil && dc.ServerDefaultSQL() == "" && !dc.IsAutoincrement() {
				result.Warnings = append(result.Warnings, &ValidationError{
					Table:   current.Name,
					Column:  dc.Name,
					Message: "new NOT NULL column without default value may fail if table has data",
				})
			}
			continue
		}
		ct, dt := cc.Type(), dc.Type()
		if ct.Kind != dt.Kind {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   current.Name,
				Column:  dc.Name,
				Message: fmt.Sprintf("column type changing from %v to %v", ct, dt),
			})
		} else if ct.Length > 0 && dt.Length > 0 && dt.Length < ct.Length {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   current.Name,
				Column:  dc.Name,
				Message: fmt.Sprintf("column size reducing from %d to %d may truncate data", ct.Length, dt.Length),
			})
		}
		if cc.IsNullable() && !dc.IsNullable() {
			result.report(&ValidationError{
				Table:    current.Name,
				Column:   dc.Name,
				Message:  "column changing from NULL to NOT NULL may fail if column has NULL values",
				Breaking: true,
			}, cfg.allowNullToNotNull)
		}
		if !cc.IsUnique() && dc.IsUnique() {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   current.Name,
				Column:  dc.Name,
				Message: "adding UNIQUE constraint may fail if duplicate values exist",
			})
		}
	}
}

func column(t *expr.Table, name string) *expr.Column {
	for _, c := range t.Columns() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ValidateTable validates a single table definition.
func ValidateTable(t *expr.Table) *ValidationResult {
	result := &ValidationResult{}
	if len(t.PrimaryKey()) == 0 {
		result.Errors = append(result.Errors, &ValidationError{
			Table:   t.Name,
			Message: "table has no primary key and cannot be mapped",
		})
	}
	names := make(map[string]bool)
	for _, c := range t.Columns() {
		if names[c.Name] {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Column:  c.Name,
				Message: "duplicate column name",
			})
		}
		names[c.Name] = true
		if c.Type().Kind == types.KindNull {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   t.Name,
				Column:  c.Name,
				Message: "column has no type",
			})
		}
		if c.IsPrimaryKey() && c.IsNullable() {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Column:  c.Name,
				Message: "primary key column is nullable",
			})
		}
	}
	for _, fk := range t.ForeignKeys() {
		if fk.UseAlter && fk.Name == "" {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   t.Name,
				Column:  fk.Parent.Name,
				Message: "foreign key created with ALTER has no constraint name",
			})
		}
	}
	return result
}

// ValidateCatalog validates every table of md and the references between
// them.
func ValidateCatalog(md *expr.MetaData) *ValidationResult {
	result := &ValidationResult{}
	resolved := true
	for _, t := range md.Tables() {
		result.merge(ValidateTable(t))
		for _, fk := range t.ForeignKeys() {
			target, err := fk.Column()
			if err != nil {
				resolved = false
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Column:  fk.Parent.Name,
					Message: err.Error(),
				})
				continue
			}
			if target.Type().Kind != fk.Parent.Type().Kind && !(target.Type().IsInteger() && fk.Parent.Type().IsInteger()) {
				result.Warnings = append(result.Warnings, &ValidationError{
					Table:   t.Name,
					Column:  fk.Parent.Name,
					Message: fmt.Sprintf("foreign key type %v differs from referenced %s type %v", fk.Parent.Type(), fk.Target(), target.Type()),
				})
			}
		}
	}
	if !resolved {
		return result
	}
	if _, err := md.SortedTables(); err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			Table:   "*",
			Message: err.Error(),
		})
	}
	return result
}
