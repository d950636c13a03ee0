package schema

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/syssam/strata/dialect/sql"
)

// Snapshot is the serialized form of a set of tables. Snapshots are kept
// next to migration directories and compared with ValidateDiff before new
// statements are generated.
type Snapshot struct {
	Dialect string   `yaml:"dialect"`
	Tables  []*Table `yaml:"tables"`
}

// WriteSnapshot encodes the tables as a YAML snapshot. Expression defaults
// are stored as their SQL text for the dialect.
func WriteSnapshot(w io.Writer, dialect string, tables ...*Table) error {
	s := &Snapshot{Dialect: dialect, Tables: make([]*Table, len(tables))}
	for i, t := range tables {
		c := t.Copy()
		for j, col := range c.Columns {
			if e, ok := col.Default.(sql.Expr); ok {
				text, err := sql.Dialect(dialect).Build(e, nil)
				if err != nil {
					return fmt.Errorf("sql/schema: default of %s.%s: %w", t.Name, col.Name, err)
				}
				c.Columns[j].Default = text
			}
		}
		s.Tables[i] = c
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("sql/schema: encode snapshot: %w", err)
	}
	return enc.Close()
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	s := &Snapshot{}
	if err := yaml.NewDecoder(r).Decode(s); err != nil {
		return nil, fmt.Errorf("sql/schema: decode snapshot: %w", err)
	}
	return s, nil
}
