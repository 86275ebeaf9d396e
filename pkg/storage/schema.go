package storage

import (
	"fmt"
	"regexp"
	"slices"
)

// TableKind distinguishes versioned entity tables from append-only history tables.
type TableKind int

const (
	// EntityTable rows are versioned by block_number; the current state is the latest version.
	EntityTable TableKind = iota
	// HistoryTable rows are append-only and unique on (id, tx_hash, event_index).
	HistoryTable
)

func (k TableKind) String() string {
	switch k {
	case EntityTable:
		return "entity"
	case HistoryTable:
		return "history"
	default:
		return fmt.Sprintf("TableKind(%d)", int(k))
	}
}

// ColumnType is the logical type of a projection column.
type ColumnType string

const (
	ColumnText    ColumnType = "text"
	ColumnInteger ColumnType = "integer"
	ColumnBool    ColumnType = "bool"
	// ColumnNumeric holds unbounded unsigned integers such as u256 values.
	ColumnNumeric ColumnType = "numeric"
	// ColumnFelt holds a field element (addresses, hashes).
	ColumnFelt ColumnType = "felt"
)

// Column is a declared projection column.
type Column struct {
	Name string
	Type ColumnType
}

// Table describes a projection table. Besides Columns, every table has IDColumn
// (text) and block_number; history tables also have tx_hash and event_index.
type Table struct {
	Name     string
	Kind     TableKind
	IDColumn string
	Columns  []Column
}

var identifierRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks that the table can be safely turned into DDL.
func (t Table) Validate() error {
	if !identifierRe.MatchString(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	if !identifierRe.MatchString(t.IDColumn) {
		return fmt.Errorf("table %s: invalid id column %q", t.Name, t.IDColumn)
	}

	seen := map[string]struct{}{t.IDColumn: {}}
	for _, reserved := range t.reservedColumns() {
		seen[reserved] = struct{}{}
	}

	for _, c := range t.Columns {
		if !identifierRe.MatchString(c.Name) {
			return fmt.Errorf("table %s: invalid column name %q", t.Name, c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("table %s: duplicate or reserved column %q", t.Name, c.Name)
		}
		switch c.Type {
		case ColumnText, ColumnInteger, ColumnBool, ColumnNumeric, ColumnFelt:
		default:
			return fmt.Errorf("table %s: column %s has unknown type %q", t.Name, c.Name, c.Type)
		}
		seen[c.Name] = struct{}{}
	}

	return nil
}

func (t Table) reservedColumns() []string {
	if t.Kind == HistoryTable {
		return []string{ColumnBlockNumber, ColumnTxHash, ColumnEventIndex}
	}
	return []string{ColumnBlockNumber}
}

// Column returns the declared column with the given name.
func (t Table) Column(name string) (Column, bool) {
	switch name {
	case t.IDColumn:
		return Column{Name: name, Type: ColumnText}, true
	case ColumnBlockNumber:
		return Column{Name: name, Type: ColumnInteger}, true
	}
	if t.Kind == HistoryTable {
		switch name {
		case ColumnTxHash:
			return Column{Name: name, Type: ColumnFelt}, true
		case ColumnEventIndex:
			return Column{Name: name, Type: ColumnInteger}, true
		}
	}

	idx := slices.IndexFunc(t.Columns, func(c Column) bool { return c.Name == name })
	if idx < 0 {
		return Column{}, false
	}
	return t.Columns[idx], true
}

// AllColumns returns every physical column in a stable order.
func (t Table) AllColumns() []Column {
	cols := []Column{{Name: t.IDColumn, Type: ColumnText}, {Name: ColumnBlockNumber, Type: ColumnInteger}}
	if t.Kind == HistoryTable {
		cols = append(cols, Column{Name: ColumnTxHash, Type: ColumnFelt}, Column{Name: ColumnEventIndex, Type: ColumnInteger})
	}
	return append(cols, t.Columns...)
}

// Schema is the set of tables a projection maintains.
type Schema struct {
	tables map[string]Table
	order  []string
}

// NewSchema validates and indexes tables.
func NewSchema(tables ...Table) (*Schema, error) {
	s := &Schema{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.tables[t.Name]; dup {
			return nil, fmt.Errorf("duplicate table %s", t.Name)
		}
		s.tables[t.Name] = t
		s.order = append(s.order, t.Name)
	}
	return s, nil
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return Table{}, fmt.Errorf("unknown table %q", name)
	}
	return t, nil
}

// TableOfKind looks up a table and checks its kind.
func (s *Schema) TableOfKind(name string, kind TableKind) (Table, error) {
	t, err := s.Table(name)
	if err != nil {
		return Table{}, err
	}
	if t.Kind != kind {
		return Table{}, fmt.Errorf("table %s is a %s table, not %s", name, t.Kind, kind)
	}
	return t, nil
}

// Tables returns the tables in declaration order.
func (s *Schema) Tables() []Table {
	out := make([]Table, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tables[name])
	}
	return out
}

// IsReservedColumn reports whether name is managed by the gateway rather than by projections.
func IsReservedColumn(name string) bool {
	switch name {
	case ColumnBlockNumber, ColumnTxHash, ColumnEventIndex:
		return true
	default:
		return false
	}
}
