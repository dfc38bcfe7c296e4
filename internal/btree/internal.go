package btree

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// internalFindChild returns the index of the child that should contain key:
// the smallest index whose separator key is >= key, or numKeys when key is
// greater than every separator (the right child).
func internalFindChild(n node, key uint32) uint32 {
	numKeys := n.internalNumKeys()
	return uint32(sort.Search(int(numKeys), func(i int) bool {
		return n.internalKey(uint32(i)) >= key
	}))
}

// updateInternalKey rewrites the separator that currently reads oldKey to
// newKey. When oldKey belonged to the right child the computed index lands
// one past the last separator; writing there touches only unused cell space,
// matching how a rightmost leaf split carries no separator to fix.
func updateInternalKey(n node, oldKey uint32, newKey uint32) {
	oldChildIndex := internalFindChild(n, oldKey)
	n.setInternalKey(oldChildIndex, newKey)
}

// internalInsert adds childPageNum under the internal node at parentPageNum.
// The child's max key decides its slot. A full parent is split instead.
func (t *Tree) internalInsert(parentPageNum uint32, childPageNum uint32) error {
	parent, err := t.page(parentPageNum)
	if err != nil {
		return err
	}
	child, err := t.page(childPageNum)
	if err != nil {
		return err
	}
	childMax, err := t.maxKey(child)
	if err != nil {
		return err
	}
	index := internalFindChild(parent, childMax)

	originalNumKeys := parent.internalNumKeys()
	if originalNumKeys >= InternalNodeMaxKeys {
		return t.internalSplitAndInsert(parentPageNum, childPageNum)
	}

	rightChildPageNum := parent.internalRightChild()
	if rightChildPageNum == InvalidPageNum {
		// An empty just-initialized internal node: the incoming child becomes
		// the right child and no separator is needed yet.
		parent.setInternalRightChild(childPageNum)
		return nil
	}

	rightChild, err := t.page(rightChildPageNum)
	if err != nil {
		return err
	}
	rightChildMax, err := t.maxKey(rightChild)
	if err != nil {
		return err
	}

	parent.setInternalNumKeys(originalNumKeys + 1)

	if childMax > rightChildMax {
		// The new child outranks the current right child: demote the old
		// right child into the last positional slot and promote the new one.
		parent.setInternalChildAt(originalNumKeys, rightChildPageNum)
		parent.setInternalKey(originalNumKeys, rightChildMax)
		parent.setInternalRightChild(childPageNum)
	} else {
		for i := originalNumKeys; i > index; i-- {
			copy(parent.internalCell(i), parent.internalCell(i-1))
		}
		parent.setInternalChildAt(index, childPageNum)
		parent.setInternalKey(index, childMax)
	}

	child.setParent(parentPageNum)
	return nil
}

// internalSplitAndInsert splits a full internal node while adding one more
// child.
//
// When the node being split is the root, createNewRoot runs first so the
// redistribution below works against the copied-out left child rather than
// page 0. The old node's right child and upper half of its positional
// children migrate into the new sibling one at a time through internalInsert;
// the right-child slot holds InvalidPageNum while in transit, which is the
// only moment that sentinel legitimately appears on a page.
func (t *Tree) internalSplitAndInsert(parentPageNum uint32, childPageNum uint32) error {
	oldPageNum := parentPageNum
	oldNode, err := t.page(oldPageNum)
	if err != nil {
		return err
	}
	oldMax, err := t.maxKey(oldNode)
	if err != nil {
		return err
	}

	child, err := t.page(childPageNum)
	if err != nil {
		return err
	}
	childMax, err := t.maxKey(child)
	if err != nil {
		return err
	}

	newPageNum := t.pager.AllocatePage()
	splittingRoot := oldNode.isRoot()

	logrus.WithFields(logrus.Fields{
		"page":     oldPageNum,
		"new_page": newPageNum,
		"root":     splittingRoot,
	}).Debug("btree: splitting internal node")

	var parent node
	var newNode node
	if splittingRoot {
		if err := t.createNewRoot(newPageNum); err != nil {
			return err
		}
		parent, err = t.page(RootPageNum)
		if err != nil {
			return err
		}
		// The split continues against the left child the old root was copied
		// into, not against page 0.
		oldPageNum, err = t.internalChild(parent, 0)
		if err != nil {
			return err
		}
		oldNode, err = t.page(oldPageNum)
		if err != nil {
			return err
		}
	} else {
		parent, err = t.page(oldNode.parent())
		if err != nil {
			return err
		}
		newNode, err = t.page(newPageNum)
		if err != nil {
			return err
		}
		initializeInternalNode(newNode)
	}

	// First move the old node's right child over, leaving the sentinel in
	// its place until a replacement is promoted below.
	curPageNum := oldNode.internalRightChild()
	cur, err := t.page(curPageNum)
	if err != nil {
		return err
	}
	if err := t.internalInsert(newPageNum, curPageNum); err != nil {
		return err
	}
	cur.setParent(newPageNum)
	oldNode.setInternalRightChild(InvalidPageNum)

	// Move the upper half of the positional children into the new node.
	for i := InternalNodeMaxKeys - 1; i > InternalNodeMaxKeys/2; i-- {
		curPageNum = oldNode.internalChildAt(uint32(i))
		cur, err = t.page(curPageNum)
		if err != nil {
			return err
		}
		if err := t.internalInsert(newPageNum, curPageNum); err != nil {
			return err
		}
		cur.setParent(newPageNum)
		oldNode.setInternalNumKeys(oldNode.internalNumKeys() - 1)
	}

	// Promote the highest remaining child to be the old node's right child.
	numKeys := oldNode.internalNumKeys()
	oldNode.setInternalRightChild(oldNode.internalChildAt(numKeys - 1))
	oldNode.setInternalNumKeys(numKeys - 1)

	// The incoming child lands in whichever half now covers its key range.
	maxAfterSplit, err := t.maxKey(oldNode)
	if err != nil {
		return err
	}
	destinationPageNum := newPageNum
	if childMax < maxAfterSplit {
		destinationPageNum = oldPageNum
	}
	if err := t.internalInsert(destinationPageNum, childPageNum); err != nil {
		return err
	}
	child.setParent(destinationPageNum)

	newOldMax, err := t.maxKey(oldNode)
	if err != nil {
		return err
	}
	updateInternalKey(parent, oldMax, newOldMax)

	if !splittingRoot {
		if err := t.internalInsert(oldNode.parent(), newPageNum); err != nil {
			return err
		}
		newNode.setParent(oldNode.parent())
	}
	return nil
}
