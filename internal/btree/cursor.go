package btree

// Cursor is a position inside the tree: a leaf page plus a cell index,
// possibly one past the leaf's last cell. Cursors borrow nothing from the
// pager between calls, so they stay valid across mutations made through
// them, and they hold no locks; the tree is single-access.
type Cursor struct {
	tree       *Tree
	pageNum    uint32
	cellNum    uint32
	endOfTable bool
}

// Start returns a cursor on the leftmost leaf's first cell. On an empty tree
// the cursor starts out at end of table.
func (t *Tree) Start() (*Cursor, error) {
	// Key 0 sorts before every possible key, so finding it lands on the
	// leftmost leaf's first slot.
	c, err := t.Find(0)
	if err != nil {
		return nil, err
	}

	n, err := t.page(c.pageNum)
	if err != nil {
		return nil, err
	}
	c.endOfTable = n.leafNumCells() == 0
	return c, nil
}

// PageNum reports the leaf page the cursor is on.
func (c *Cursor) PageNum() uint32 {
	return c.pageNum
}

// CellNum reports the cell index within the leaf, possibly equal to the
// leaf's cell count when the cursor points at an insertion slot.
func (c *Cursor) CellNum() uint32 {
	return c.cellNum
}

// EndOfTable reports whether the cursor has advanced past the last cell of
// the rightmost leaf.
func (c *Cursor) EndOfTable() bool {
	return c.endOfTable
}

// Key returns the key of the cell under the cursor.
func (c *Cursor) Key() (uint32, error) {
	n, err := c.tree.page(c.pageNum)
	if err != nil {
		return 0, err
	}
	return n.leafKey(c.cellNum), nil
}

// NumCells returns the cell count of the leaf the cursor is on.
func (c *Cursor) NumCells() (uint32, error) {
	n, err := c.tree.page(c.pageNum)
	if err != nil {
		return 0, err
	}
	return n.leafNumCells(), nil
}

// Value returns the serialized-row region of the cell under the cursor. The
// slice aliases the page buffer and is only valid until the next pager call.
func (c *Cursor) Value() ([]byte, error) {
	n, err := c.tree.page(c.pageNum)
	if err != nil {
		return nil, err
	}
	return n.leafValue(c.cellNum), nil
}

// Advance moves the cursor one cell to the right, hopping to the sibling
// leaf when the current one is exhausted. Reaching the rightmost leaf's end
// sets end of table.
func (c *Cursor) Advance() error {
	n, err := c.tree.page(c.pageNum)
	if err != nil {
		return err
	}

	c.cellNum++
	if c.cellNum >= n.leafNumCells() {
		next := n.leafNextLeaf()
		if next == 0 {
			c.endOfTable = true
		} else {
			c.pageNum = next
			c.cellNum = 0
		}
	}
	return nil
}
