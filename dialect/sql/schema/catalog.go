package schema

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/strata/dialect/sql/expr"
	"github.com/syssam/strata/dialect/sql/types"
)

// File is the YAML form of a catalog:
//
//	tables:
//	  - name: users
//	    columns:
//	      - {name: id, type: integer, primary_key: true}
//	      - {name: name, type: string(40), nullable: false}
//	  - name: addresses
//	    columns:
//	      - {name: id, type: integer, primary_key: true}
//	      - {name: user_id, type: integer, references: users.id, on_delete: cascade}
type File struct {
	Tables []TableDef `yaml:"tables"`
}

// TableDef describes a table.
type TableDef struct {
	Name    string      `yaml:"name"`
	Comment string      `yaml:"comment,omitempty"`
	Columns []ColumnDef `yaml:"columns"`
	Unique  [][]string  `yaml:"unique,omitempty"`
}

// ColumnDef describes a column.
type ColumnDef struct {
	Name          string `yaml:"name"`
	Key           string `yaml:"key,omitempty"`
	Type          string `yaml:"type"`
	PrimaryKey    bool   `yaml:"primary_key,omitempty"`
	Nullable      *bool  `yaml:"nullable,omitempty"`
	Unique        bool   `yaml:"unique,omitempty"`
	Index         bool   `yaml:"index,omitempty"`
	Autoincrement *bool  `yaml:"autoincrement,omitempty"`
	Default       any    `yaml:"default,omitempty"`
	ServerDefault string `yaml:"server_default,omitempty"`
	References    string `yaml:"references,omitempty"`
	Constraint    string `yaml:"constraint,omitempty"`
	OnDelete      string `yaml:"on_delete,omitempty"`
	OnUpdate      string `yaml:"on_update,omitempty"`
	UseAlter      bool   `yaml:"use_alter,omitempty"`
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*expr.MetaData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a YAML catalog. Columns with an unknown type name are kept
// untyped and reported with a warning.
func Load(r io.Reader) (*expr.MetaData, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("schema: decode catalog: %w", err)
	}
	return file.Build()
}

// Build creates the catalog described by f.
func (f *File) Build() (*expr.MetaData, error) {
	md := expr.NewMetaData()
	for _, td := range f.Tables {
		if td.Name == "" {
			return nil, fmt.Errorf("schema: table without name")
		}
		cols := make([]*expr.Column, 0, len(td.Columns))
		for _, cd := range td.Columns {
			col, err := cd.column(td.Name)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
		t := expr.NewTable(td.Name, cols...)
		t.Comment = td.Comment
		for _, keys := range td.Unique {
			for _, k := range keys {
				if t.C(k) == nil {
					return nil, fmt.Errorf("schema: unique constraint of %s references unknown column %q", td.Name, k)
				}
			}
			t.Unique(keys...)
		}
		if err := md.Add(t); err != nil {
			return nil, err
		}
	}
	return md, nil
}

func (cd ColumnDef) column(table string) (*expr.Column, error) {
	if cd.Name == "" {
		return nil, fmt.Errorf("schema: column without name in table %s", table)
	}
	typ, ok, err := types.Lookup(cd.Type)
	if err != nil {
		return nil, fmt.Errorf("schema: %s.%s: %w", table, cd.Name, err)
	}
	if !ok && cd.Type != "" {
		slog.Warn("unknown column type, column is left untyped", "table", table, "column", cd.Name, "type", cd.Type)
	}
	col := expr.Col(cd.Name, typ)
	if cd.Key != "" {
		col.WithKey(cd.Key)
	}
	if cd.Nullable != nil && !*cd.Nullable {
		col.NotNull()
	}
	if cd.PrimaryKey {
		col.PrimaryKey()
	}
	if cd.Unique {
		col.Unique()
	}
	if cd.Index {
		col.Index()
	}
	if cd.Autoincrement != nil {
		col.Autoincrement(*cd.Autoincrement)
	}
	if cd.Default != nil {
		col.Default(cd.Default)
	}
	if cd.ServerDefault != "" {
		col.ServerDefault(cd.ServerDefault)
	}
	if cd.References != "" {
		var opts []expr.ForeignKeyOption
		if cd.Constraint != "" {
			opts = append(opts, expr.ConstraintName(cd.Constraint))
		}
		if cd.OnDelete != "" {
			a, err := action(cd.OnDelete)
			if err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", table, cd.Name, err)
			}
			opts = append(opts, expr.OnDelete(a))
		}
		if cd.OnUpdate != "" {
			a, err := action(cd.OnUpdate)
			if err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", table, cd.Name, err)
			}
			opts = append(opts, expr.OnUpdate(a))
		}
		if cd.UseAlter {
			opts = append(opts, expr.UseAlter())
		}
		col.References(cd.References, opts...)
	}
	return col, nil
}

func action(s string) (expr.CascadeAction, error) {
	a := expr.CascadeAction(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "_", " ")))
	switch a {
	case expr.NoAction, expr.Restrict, expr.Cascade, expr.SetNull, expr.SetDefault:
		return a, nil
	}
	return "", fmt.Errorf("unknown referential action %q", s)
}

// Dump converts a catalog back to its YAML form.
func Dump(md *expr.MetaData) *File {
	f := &File{}
	for _, t := range md.Tables() {
		td := TableDef{Name: t.Name, Comment: t.Comment}
		for _, c := range t.Columns() {
			cd := ColumnDef{
				Name:          c.Name,
				Type:          c.Type().String(),
				PrimaryKey:    c.IsPrimaryKey(),
				Unique:        c.IsUnique(),
				Index:         c.HasIndex(),
				ServerDefault: c.ServerDefaultSQL(),
			}
			if c.Key != c.Name {
				cd.Key = c.Key
			}
			if !c.IsNullable() && !c.IsPrimaryKey() {
				notNull := false
				cd.Nullable = &notNull
			}
			if d := c.DefaultValue(); d != nil && d.Func == nil {
				cd.Default = d.Value
			}
			if fks := c.ForeignKeys(); len(fks) > 0 {
				fk := fks[0]
				cd.References = fk.Target()
				cd.Constraint = fk.Name
				cd.OnDelete = strings.ToLower(string(fk.OnDelete))
				cd.OnUpdate = strings.ToLower(string(fk.OnUpdate))
				cd.UseAlter = fk.UseAlter
			}
			td.Columns = append(td.Columns, cd)
		}
		for _, u := range t.UniqueConstraints() {
			keys := make([]string, len(u))
			for i, c := range u {
				keys[i] = c.Key
			}
			td.Unique = append(td.Unique, keys)
		}
		f.Tables = append(f.Tables, td)
	}
	return f
}

// Marshal renders the catalog as YAML.
func Marshal(md *expr.MetaData) ([]byte, error) {
	return yaml.Marshal(Dump(md))
}
