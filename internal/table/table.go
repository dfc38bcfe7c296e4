package table

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"rowdb/internal/btree"
	"rowdb/internal/pager"
	"rowdb/internal/row"
)

var (
	// ErrDuplicateKey is returned by Insert when the id already exists.
	ErrDuplicateKey = errors.New("table: duplicate key")

	// ErrNotFound is returned by Update and Delete when the id does not exist.
	ErrNotFound = errors.New("table: key not found")

	// ErrTableFull is returned by Insert when the table cannot grow past the
	// pager's page capacity.
	ErrTableFull = errors.New("table: table full")
)

// Table is the single table of a database file: a B+ tree of rows keyed by
// id. A Table exclusively owns its file between Open and Close; there is no
// locking and no concurrent access.
type Table struct {
	pager *pager.Pager
	tree  *btree.Tree
}

// Open opens or creates the database file at path. A brand-new file gets
// page 0 initialized as an empty leaf root.
func Open(fs afero.Fs, path string) (*Table, error) {
	p, err := pager.Open(fs, path)
	if err != nil {
		return nil, err
	}
	t, err := btree.New(p)
	if err != nil {
		p.Close()
		return nil, err
	}
	return &Table{pager: p, tree: t}, nil
}

// Tree exposes the underlying tree for read-only introspection (.btree).
func (t *Table) Tree() *btree.Tree {
	return t.tree
}

// Insert adds a new row. The id must not already exist.
func (t *Table) Insert(r row.Row) error {
	if err := r.Validate(); err != nil {
		return err
	}

	c, err := t.tree.Find(r.ID)
	if err != nil {
		return t.mapCapacity(err)
	}

	numCells, err := c.NumCells()
	if err != nil {
		return err
	}
	if c.CellNum() < numCells {
		key, err := c.Key()
		if err != nil {
			return err
		}
		if key == r.ID {
			return fmt.Errorf("%w: id %d", ErrDuplicateKey, r.ID)
		}
	}

	var buf [row.Size]byte
	if err := row.Serialize(r, buf[:]); err != nil {
		return err
	}
	if err := t.tree.LeafInsert(c, r.ID, buf[:]); err != nil {
		return t.mapCapacity(err)
	}
	return nil
}

// Update overwrites the username and email of the row with r.ID. The key
// itself never changes. Updating a missing id reports ErrNotFound rather
// than silently writing into an empty slot.
func (t *Table) Update(r row.Row) error {
	if err := r.Validate(); err != nil {
		return err
	}

	c, err := t.tree.Find(r.ID)
	if err != nil {
		return err
	}

	numCells, err := c.NumCells()
	if err != nil {
		return err
	}
	if c.CellNum() >= numCells {
		return fmt.Errorf("%w: id %d", ErrNotFound, r.ID)
	}
	key, err := c.Key()
	if err != nil {
		return err
	}
	if key != r.ID {
		return fmt.Errorf("%w: id %d", ErrNotFound, r.ID)
	}

	value, err := c.Value()
	if err != nil {
		return err
	}
	return row.SerializeStrings(r, value)
}

// Delete removes the row with the given id by shifting the following cells
// left. The tree is not rebalanced and pages are never reclaimed; scans stay
// correct because they follow sibling links, not fill counts.
func (t *Table) Delete(id uint32) error {
	c, err := t.tree.Find(id)
	if err != nil {
		return err
	}

	numCells, err := c.NumCells()
	if err != nil {
		return err
	}
	if c.CellNum() >= numCells {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	key, err := c.Key()
	if err != nil {
		return err
	}
	if key != id {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	return t.tree.LeafDelete(c)
}

// SelectAll returns every row in ascending id order by walking the leaf
// sibling chain from the leftmost leaf.
func (t *Table) SelectAll() ([]row.Row, error) {
	var rows []row.Row
	err := t.Scan(func(r row.Row) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Scan streams every row in ascending id order into fn.
func (t *Table) Scan(fn func(row.Row) error) error {
	c, err := t.tree.Start()
	if err != nil {
		return err
	}
	for !c.EndOfTable() {
		value, err := c.Value()
		if err != nil {
			return err
		}
		r, err := row.Deserialize(value)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		if err := c.Advance(); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes every cached page and closes the file. Mutations made since
// Open are durable only after Close returns nil.
func (t *Table) Close() error {
	logrus.WithField("pages", t.pager.NumPages()).Debug("table: closing")
	return t.pager.Close()
}

// mapCapacity folds the pager's bounds error into the table-full result so
// callers see a recoverable condition instead of a corruption-class error.
func (t *Table) mapCapacity(err error) error {
	if errors.Is(err, pager.ErrPageBounds) {
		return fmt.Errorf("%w: %v", ErrTableFull, err)
	}
	return err
}
