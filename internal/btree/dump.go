package btree

import (
	"fmt"
	"io"
	"strings"

	"rowdb/internal/pager"
	"rowdb/internal/row"
)

// NodeInfo is a read-only snapshot of one node's structure, used by the
// shell's tree dump and by structural checks in tests. It copies everything
// it reports, so it stays valid after the page buffer is reused.
type NodeInfo struct {
	PageNum uint32
	Type    NodeType
	IsRoot  bool
	Parent  uint32

	// Keys holds the cell keys of a leaf or the separator keys of an
	// internal node.
	Keys []uint32

	// Children lists positional child page numbers followed by the right
	// child. Empty for leaves.
	Children []uint32

	// NextLeaf is the right-sibling page number of a leaf, 0 when none.
	NextLeaf uint32
}

// Describe reads the node at pageNum into a NodeInfo.
func (t *Tree) Describe(pageNum uint32) (NodeInfo, error) {
	n, err := t.page(pageNum)
	if err != nil {
		return NodeInfo{}, err
	}

	info := NodeInfo{
		PageNum: pageNum,
		Type:    n.typ(),
		IsRoot:  n.isRoot(),
		Parent:  n.parent(),
	}

	switch n.typ() {
	case NodeLeaf:
		numCells := n.leafNumCells()
		info.Keys = make([]uint32, 0, numCells)
		for i := uint32(0); i < numCells; i++ {
			info.Keys = append(info.Keys, n.leafKey(i))
		}
		info.NextLeaf = n.leafNextLeaf()
	case NodeInternal:
		numKeys := n.internalNumKeys()
		info.Keys = make([]uint32, 0, numKeys)
		info.Children = make([]uint32, 0, numKeys+1)
		for i := uint32(0); i < numKeys; i++ {
			info.Keys = append(info.Keys, n.internalKey(i))
			info.Children = append(info.Children, n.internalChildAt(i))
		}
		info.Children = append(info.Children, n.internalRightChild())
	default:
		return NodeInfo{}, fmt.Errorf("btree: page %d: unknown node type %d", pageNum, n[nodeTypeOffset])
	}

	return info, nil
}

// Walk visits every node reachable from the root in depth-first order,
// parents before children.
func (t *Tree) Walk(fn func(NodeInfo) error) error {
	return t.walk(RootPageNum, fn)
}

func (t *Tree) walk(pageNum uint32, fn func(NodeInfo) error) error {
	info, err := t.Describe(pageNum)
	if err != nil {
		return err
	}
	if err := fn(info); err != nil {
		return err
	}
	for _, child := range info.Children {
		if child == InvalidPageNum {
			return fmt.Errorf("%w: page %d", ErrInvalidPage, pageNum)
		}
		if err := t.walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Dump writes an indented structure listing of the whole tree, one line per
// node, one per leaf key, and one per internal separator key.
func (t *Tree) Dump(w io.Writer) error {
	return t.dump(w, RootPageNum, 0)
}

func (t *Tree) dump(w io.Writer, pageNum uint32, depth int) error {
	info, err := t.Describe(pageNum)
	if err != nil {
		return err
	}
	indent := strings.Repeat("  ", depth)

	switch info.Type {
	case NodeLeaf:
		fmt.Fprintf(w, "%s- leaf (size %d)\n", indent, len(info.Keys))
		for _, k := range info.Keys {
			fmt.Fprintf(w, "%s  - %d\n", indent, k)
		}
	case NodeInternal:
		fmt.Fprintf(w, "%s- internal (size %d)\n", indent, len(info.Keys))
		for i, child := range info.Children {
			if child == InvalidPageNum {
				return fmt.Errorf("%w: page %d", ErrInvalidPage, pageNum)
			}
			if err := t.dump(w, child, depth+1); err != nil {
				return err
			}
			if i < len(info.Keys) {
				fmt.Fprintf(w, "%s- key %d\n", indent, info.Keys[i])
			}
		}
	}
	return nil
}

// Constants writes the layout constants that define the file format, for the
// shell's .constants command.
func Constants(w io.Writer) {
	fmt.Fprintf(w, "ROW_SIZE: %d\n", row.Size)
	fmt.Fprintf(w, "PAGE_SIZE: %d\n", pager.PageSize)
	fmt.Fprintf(w, "COMMON_NODE_HEADER_SIZE: %d\n", commonNodeHeaderSize)
	fmt.Fprintf(w, "LEAF_NODE_HEADER_SIZE: %d\n", leafNodeHeaderSize)
	fmt.Fprintf(w, "LEAF_NODE_CELL_SIZE: %d\n", leafNodeCellSize)
	fmt.Fprintf(w, "LEAF_NODE_SPACE_FOR_CELLS: %d\n", leafNodeSpaceForCells)
	fmt.Fprintf(w, "LEAF_NODE_MAX_CELLS: %d\n", LeafNodeMaxCells)
	fmt.Fprintf(w, "INTERNAL_NODE_HEADER_SIZE: %d\n", internalNodeHeaderSize)
	fmt.Fprintf(w, "INTERNAL_NODE_CELL_SIZE: %d\n", internalNodeCellSize)
	fmt.Fprintf(w, "INTERNAL_NODE_MAX_KEYS: %d\n", InternalNodeMaxKeys)
}
