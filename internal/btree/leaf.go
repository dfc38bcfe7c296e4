package btree

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// leafFind positions a cursor within the leaf at pageNum: at the cell whose
// key matches, or at the slot where key would be inserted. That slot can be
// one past the last cell.
func (t *Tree) leafFind(pageNum uint32, key uint32) (*Cursor, error) {
	n, err := t.page(pageNum)
	if err != nil {
		return nil, err
	}
	numCells := n.leafNumCells()

	cellNum := uint32(sort.Search(int(numCells), func(i int) bool {
		return n.leafKey(uint32(i)) >= key
	}))

	return &Cursor{
		tree:    t,
		pageNum: pageNum,
		cellNum: cellNum,
	}, nil
}

// LeafInsert writes (key, value) at the cursor's position, shifting later
// cells right. value must be a serialized row of exactly row.Size bytes.
// A full leaf is split instead.
func (t *Tree) LeafInsert(c *Cursor, key uint32, value []byte) error {
	n, err := t.page(c.pageNum)
	if err != nil {
		return err
	}

	numCells := n.leafNumCells()
	if numCells >= LeafNodeMaxCells {
		return t.leafSplitAndInsert(c, key, value)
	}

	if c.cellNum < numCells {
		// Make room for the new cell.
		for i := numCells; i > c.cellNum; i-- {
			copy(n.leafCell(i), n.leafCell(i-1))
		}
	}

	n.setLeafKey(c.cellNum, key)
	copy(n.leafValue(c.cellNum), value)
	n.setLeafNumCells(numCells + 1)
	return nil
}

// LeafDelete removes the cell under the cursor by shifting the cells to its
// right left by one. Underfull leaves are left alone; delete never rebalances
// and never frees pages.
func (t *Tree) LeafDelete(c *Cursor) error {
	n, err := t.page(c.pageNum)
	if err != nil {
		return err
	}

	numCells := n.leafNumCells()
	for i := c.cellNum + 1; i < numCells; i++ {
		copy(n.leafCell(i-1), n.leafCell(i))
	}
	n.setLeafNumCells(numCells - 1)
	return nil
}

// leafSplitAndInsert splits a full leaf around the insertion point.
//
// A new leaf is allocated and spliced into the sibling chain to the right of
// the old one. The LeafNodeMaxCells+1 virtual cells (existing cells plus the
// one being inserted) are then redistributed: the lower LeafNodeLeftSplitCount
// stay in the old leaf, the rest move to the new leaf. Iterating from the
// highest virtual index down lets the old leaf be rewritten in place.
//
// Afterwards either a new root is installed (the old leaf was the root) or
// the parent's separator key for the old leaf is refreshed and the new leaf
// is inserted into the parent.
func (t *Tree) leafSplitAndInsert(c *Cursor, key uint32, value []byte) error {
	oldNode, err := t.page(c.pageNum)
	if err != nil {
		return err
	}
	oldMax, err := t.maxKey(oldNode)
	if err != nil {
		return err
	}

	newPageNum := t.pager.AllocatePage()
	newNode, err := t.page(newPageNum)
	if err != nil {
		return err
	}
	initializeLeafNode(newNode)
	newNode.setParent(oldNode.parent())
	newNode.setLeafNextLeaf(oldNode.leafNextLeaf())
	oldNode.setLeafNextLeaf(newPageNum)

	logrus.WithFields(logrus.Fields{
		"page":     c.pageNum,
		"new_page": newPageNum,
		"key":      key,
	}).Debug("btree: splitting leaf")

	// Redistribute from the highest virtual index down so cells still to be
	// read out of the old node are never clobbered first.
	for i := int32(LeafNodeMaxCells); i >= 0; i-- {
		var dest node
		if uint32(i) >= LeafNodeLeftSplitCount {
			dest = newNode
		} else {
			dest = oldNode
		}
		indexWithinNode := uint32(i) % LeafNodeLeftSplitCount

		switch {
		case uint32(i) == c.cellNum:
			dest.setLeafKey(indexWithinNode, key)
			copy(dest.leafValue(indexWithinNode), value)
		case uint32(i) > c.cellNum:
			copy(dest.leafCell(indexWithinNode), oldNode.leafCell(uint32(i)-1))
		default:
			copy(dest.leafCell(indexWithinNode), oldNode.leafCell(uint32(i)))
		}
	}

	oldNode.setLeafNumCells(LeafNodeLeftSplitCount)
	newNode.setLeafNumCells(LeafNodeRightSplitCount)

	if oldNode.isRoot() {
		return t.createNewRoot(newPageNum)
	}

	parentPageNum := oldNode.parent()
	newOldMax, err := t.maxKey(oldNode)
	if err != nil {
		return err
	}
	parent, err := t.page(parentPageNum)
	if err != nil {
		return err
	}
	updateInternalKey(parent, oldMax, newOldMax)
	return t.internalInsert(parentPageNum, newPageNum)
}
