package btree

import (
	"errors"
	"fmt"

	"rowdb/internal/pager"
)

// RootPageNum is where the root node always lives. The file format and
// re-open path rely on this, so a root split copies the old root out to a
// fresh page and rebuilds page 0 in place.
const RootPageNum = 0

var (
	// ErrInvalidPage is returned when navigation reaches a child slot holding
	// InvalidPageNum. That sentinel is legal only transiently inside a split,
	// so seeing it during a lookup means the file is corrupt.
	ErrInvalidPage = errors.New("btree: access to invalid page sentinel")

	// ErrChildBounds is returned when a child index exceeds a node's key count.
	ErrChildBounds = errors.New("btree: child index out of bounds")
)

// Tree is a B+ tree rooted at page 0 of the underlying pager. All records
// live in leaf cells sorted ascending by key; internal nodes hold separator
// keys where each key is the max key of the child to its left. Leaves are
// chained left to right through their nextLeaf pointers.
type Tree struct {
	pager *pager.Pager
}

// New wraps a pager in a tree. If the file is brand new (zero pages), page 0
// is initialized as an empty leaf root.
func New(p *pager.Pager) (*Tree, error) {
	t := &Tree{pager: p}
	if p.NumPages() == 0 {
		root, err := p.Get(RootPageNum)
		if err != nil {
			return nil, err
		}
		initializeLeafNode(root)
		node(root).setRoot(true)
	}
	return t, nil
}

// Pager exposes the underlying pager, mainly so the table driver can close it.
func (t *Tree) Pager() *pager.Pager {
	return t.pager
}

// page borrows the page buffer for pageNum as a node view.
func (t *Tree) page(pageNum uint32) (node, error) {
	buf, err := t.pager.Get(pageNum)
	if err != nil {
		return nil, err
	}
	return node(buf), nil
}

// internalChild resolves child index childNum of an internal node, where
// childNum == numKeys addresses the distinguished right child. A sentinel in
// the slot is corruption from the caller's point of view.
func (t *Tree) internalChild(n node, childNum uint32) (uint32, error) {
	numKeys := n.internalNumKeys()
	if childNum > numKeys {
		return 0, fmt.Errorf("%w: index %d, num keys %d", ErrChildBounds, childNum, numKeys)
	}
	if childNum == numKeys {
		right := n.internalRightChild()
		if right == InvalidPageNum {
			return 0, fmt.Errorf("%w: right child", ErrInvalidPage)
		}
		return right, nil
	}
	child := n.internalChildAt(childNum)
	if child == InvalidPageNum {
		return 0, fmt.Errorf("%w: child %d", ErrInvalidPage, childNum)
	}
	return child, nil
}

// maxKey returns the largest key stored in the subtree rooted at n. For an
// internal node that means chasing right children down to a leaf.
func (t *Tree) maxKey(n node) (uint32, error) {
	if n.typ() == NodeLeaf {
		numCells := n.leafNumCells()
		if numCells == 0 {
			// Delete can drain a leaf without rebalancing; such a leaf has no
			// max key to report.
			return 0, errors.New("btree: empty node has no max key")
		}
		return n.leafKey(numCells - 1), nil
	}
	right := n.internalRightChild()
	if right == InvalidPageNum {
		return 0, fmt.Errorf("%w: max key via right child", ErrInvalidPage)
	}
	child, err := t.page(right)
	if err != nil {
		return 0, err
	}
	return t.maxKey(child)
}

// Find positions a cursor at the cell holding key, or at the slot where key
// would be inserted (possibly one past the last cell of its leaf).
func (t *Tree) Find(key uint32) (*Cursor, error) {
	root, err := t.page(RootPageNum)
	if err != nil {
		return nil, err
	}
	if root.typ() == NodeLeaf {
		return t.leafFind(RootPageNum, key)
	}
	return t.internalFind(RootPageNum, key)
}

// internalFind descends one internal level toward key.
func (t *Tree) internalFind(pageNum uint32, key uint32) (*Cursor, error) {
	n, err := t.page(pageNum)
	if err != nil {
		return nil, err
	}

	childIndex := internalFindChild(n, key)
	childPage, err := t.internalChild(n, childIndex)
	if err != nil {
		return nil, err
	}

	child, err := t.page(childPage)
	if err != nil {
		return nil, err
	}
	switch child.typ() {
	case NodeLeaf:
		return t.leafFind(childPage, key)
	default:
		return t.internalFind(childPage, key)
	}
}

// createNewRoot installs a fresh internal root after the old root split.
// rightChildPageNum is the new sibling produced by the split.
//
// The old root's bytes are copied into a newly allocated left-child page, so
// the root itself can stay on page 0. When the old root was internal (a root
// split deeper in the tree), every positional child the left child references
// is re-pointed at its new parent page; its right child is left as is, because
// internalSplitAndInsert moves that child into the new sibling right after.
func (t *Tree) createNewRoot(rightChildPageNum uint32) error {
	root, err := t.page(RootPageNum)
	if err != nil {
		return err
	}
	rightChild, err := t.page(rightChildPageNum)
	if err != nil {
		return err
	}

	leftChildPageNum := t.pager.AllocatePage()
	leftChild, err := t.page(leftChildPageNum)
	if err != nil {
		return err
	}

	if root.typ() == NodeInternal {
		initializeInternalNode(rightChild)
		initializeInternalNode(leftChild)
	}

	// The left child inherits the old root's bytes wholesale.
	copy(leftChild, root)
	leftChild.setRoot(false)

	if leftChild.typ() == NodeInternal {
		for i := uint32(0); i < leftChild.internalNumKeys(); i++ {
			childPage, err := t.internalChild(leftChild, i)
			if err != nil {
				return err
			}
			child, err := t.page(childPage)
			if err != nil {
				return err
			}
			child.setParent(leftChildPageNum)
		}
	}

	initializeInternalNode(root)
	root.setRoot(true)
	root.setInternalNumKeys(1)
	root.setInternalChildAt(0, leftChildPageNum)
	leftChildMaxKey, err := t.maxKey(leftChild)
	if err != nil {
		return err
	}
	root.setInternalKey(0, leftChildMaxKey)
	root.setInternalRightChild(rightChildPageNum)
	leftChild.setParent(RootPageNum)
	rightChild.setParent(RootPageNum)
	return nil
}
