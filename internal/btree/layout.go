package btree

import (
	"encoding/binary"
	"math"

	"rowdb/internal/pager"
	"rowdb/internal/row"
)

// Node page layout (on disk):
//
// Common header, both node types:
//
// offset  size  field
// 0       1     nodeType (0 = internal, 1 = leaf)
// 1       1     isRoot (0 or 1)
// 2       4     parentPageNum (uint32, 0 for the root)
//
// Leaf node, after the common header:
//
// 6       4     numCells (uint32)
// 10      4     nextLeafPageNum (uint32, 0 = no right sibling)
// 14..    cells: numCells × [ key (4) | row (row.Size) ]
//
// Internal node, after the common header:
//
// 6       4     numKeys (uint32)
// 10      4     rightChildPageNum (uint32, may hold InvalidPageNum mid-split)
// 14..    entries: numKeys × [ childPageNum (4) | key (4) ]
//
// Invariants:
//   keys within a node are strictly ascending
//   every internal key equals the max key of the child to its left
//   the root lives on page 0 with parentPageNum 0
//
// All offsets below derive from these widths; the file is re-opened across
// runs, so they are the wire format.

// NodeType discriminates the two page interpretations.
type NodeType uint8

const (
	// NodeInternal pages hold child pointers and separator keys.
	NodeInternal NodeType = 0
	// NodeLeaf pages hold the actual key/row cells.
	NodeLeaf NodeType = 1
)

func (t NodeType) String() string {
	switch t {
	case NodeInternal:
		return "internal"
	case NodeLeaf:
		return "leaf"
	default:
		return "unknown"
	}
}

const (
	nodeTypeSize         = 1
	nodeTypeOffset       = 0
	isRootSize           = 1
	isRootOffset         = nodeTypeOffset + nodeTypeSize
	parentPointerSize    = 4
	parentPointerOffset  = isRootOffset + isRootSize
	commonNodeHeaderSize = nodeTypeSize + isRootSize + parentPointerSize

	leafNodeNumCellsSize   = 4
	leafNodeNumCellsOffset = commonNodeHeaderSize
	leafNodeNextLeafSize   = 4
	leafNodeNextLeafOffset = leafNodeNumCellsOffset + leafNodeNumCellsSize
	leafNodeHeaderSize     = commonNodeHeaderSize + leafNodeNumCellsSize + leafNodeNextLeafSize

	leafNodeKeySize       = 4
	leafNodeKeyOffset     = 0
	leafNodeValueSize     = row.Size
	leafNodeValueOffset   = leafNodeKeyOffset + leafNodeKeySize
	leafNodeCellSize      = leafNodeKeySize + leafNodeValueSize
	leafNodeSpaceForCells = pager.PageSize - leafNodeHeaderSize

	// LeafNodeMaxCells is how many cells fit in one leaf page.
	LeafNodeMaxCells = leafNodeSpaceForCells / leafNodeCellSize

	// Split counts: the MaxCells+1 virtual cells of an overflowing leaf are
	// redistributed with the left node taking the larger half.
	LeafNodeRightSplitCount = (LeafNodeMaxCells + 1) / 2
	LeafNodeLeftSplitCount  = (LeafNodeMaxCells + 1) - LeafNodeRightSplitCount

	internalNodeNumKeysSize      = 4
	internalNodeNumKeysOffset    = commonNodeHeaderSize
	internalNodeRightChildSize   = 4
	internalNodeRightChildOffset = internalNodeNumKeysOffset + internalNodeNumKeysSize
	internalNodeHeaderSize       = commonNodeHeaderSize + internalNodeNumKeysSize + internalNodeRightChildSize

	internalNodeChildSize = 4
	internalNodeKeySize   = 4
	internalNodeCellSize  = internalNodeChildSize + internalNodeKeySize

	// InternalNodeMaxKeys is kept deliberately small so splits happen early
	// and often; the page could hold far more.
	InternalNodeMaxKeys = 3
)

// InvalidPageNum marks a child slot that exists but is not wired up yet.
// It appears only transiently while an internal node is being split.
const InvalidPageNum = math.MaxUint32

// node is a typed view over one raw page. It is borrowed from the pager for
// the scope of a single operation and must not outlive it.
type node []byte

func (n node) typ() NodeType {
	return NodeType(n[nodeTypeOffset])
}

func (n node) setTyp(t NodeType) {
	n[nodeTypeOffset] = byte(t)
}

func (n node) isRoot() bool {
	return n[isRootOffset] == 1
}

func (n node) setRoot(isRoot bool) {
	if isRoot {
		n[isRootOffset] = 1
	} else {
		n[isRootOffset] = 0
	}
}

func (n node) parent() uint32 {
	return binary.LittleEndian.Uint32(n[parentPointerOffset : parentPointerOffset+parentPointerSize])
}

func (n node) setParent(pageNum uint32) {
	binary.LittleEndian.PutUint32(n[parentPointerOffset:parentPointerOffset+parentPointerSize], pageNum)
}

// Leaf accessors.

func (n node) leafNumCells() uint32 {
	return binary.LittleEndian.Uint32(n[leafNodeNumCellsOffset : leafNodeNumCellsOffset+leafNodeNumCellsSize])
}

func (n node) setLeafNumCells(count uint32) {
	binary.LittleEndian.PutUint32(n[leafNodeNumCellsOffset:leafNodeNumCellsOffset+leafNodeNumCellsSize], count)
}

func (n node) leafNextLeaf() uint32 {
	return binary.LittleEndian.Uint32(n[leafNodeNextLeafOffset : leafNodeNextLeafOffset+leafNodeNextLeafSize])
}

func (n node) setLeafNextLeaf(pageNum uint32) {
	binary.LittleEndian.PutUint32(n[leafNodeNextLeafOffset:leafNodeNextLeafOffset+leafNodeNextLeafSize], pageNum)
}

func leafCellOffset(cellNum uint32) int {
	return leafNodeHeaderSize + int(cellNum)*leafNodeCellSize
}

// leafCell returns the full key+value region of cell cellNum.
func (n node) leafCell(cellNum uint32) []byte {
	off := leafCellOffset(cellNum)
	return n[off : off+leafNodeCellSize]
}

func (n node) leafKey(cellNum uint32) uint32 {
	off := leafCellOffset(cellNum)
	return binary.LittleEndian.Uint32(n[off : off+leafNodeKeySize])
}

func (n node) setLeafKey(cellNum uint32, key uint32) {
	off := leafCellOffset(cellNum)
	binary.LittleEndian.PutUint32(n[off:off+leafNodeKeySize], key)
}

// leafValue returns the serialized-row region of cell cellNum.
func (n node) leafValue(cellNum uint32) []byte {
	off := leafCellOffset(cellNum) + leafNodeValueOffset
	return n[off : off+leafNodeValueSize]
}

// Internal accessors.

func (n node) internalNumKeys() uint32 {
	return binary.LittleEndian.Uint32(n[internalNodeNumKeysOffset : internalNodeNumKeysOffset+internalNodeNumKeysSize])
}

func (n node) setInternalNumKeys(count uint32) {
	binary.LittleEndian.PutUint32(n[internalNodeNumKeysOffset:internalNodeNumKeysOffset+internalNodeNumKeysSize], count)
}

func (n node) internalRightChild() uint32 {
	return binary.LittleEndian.Uint32(n[internalNodeRightChildOffset : internalNodeRightChildOffset+internalNodeRightChildSize])
}

func (n node) setInternalRightChild(pageNum uint32) {
	binary.LittleEndian.PutUint32(n[internalNodeRightChildOffset:internalNodeRightChildOffset+internalNodeRightChildSize], pageNum)
}

func internalCellOffset(keyNum uint32) int {
	return internalNodeHeaderSize + int(keyNum)*internalNodeCellSize
}

func (n node) internalCell(keyNum uint32) []byte {
	off := internalCellOffset(keyNum)
	return n[off : off+internalNodeCellSize]
}

// internalChildAt reads the positional child slot keyNum without any bounds
// or sentinel checking. Navigation goes through (*Tree).internalChild.
func (n node) internalChildAt(keyNum uint32) uint32 {
	off := internalCellOffset(keyNum)
	return binary.LittleEndian.Uint32(n[off : off+internalNodeChildSize])
}

func (n node) setInternalChildAt(keyNum uint32, pageNum uint32) {
	off := internalCellOffset(keyNum)
	binary.LittleEndian.PutUint32(n[off:off+internalNodeChildSize], pageNum)
}

func (n node) internalKey(keyNum uint32) uint32 {
	off := internalCellOffset(keyNum) + internalNodeChildSize
	return binary.LittleEndian.Uint32(n[off : off+internalNodeKeySize])
}

func (n node) setInternalKey(keyNum uint32, key uint32) {
	off := internalCellOffset(keyNum) + internalNodeChildSize
	binary.LittleEndian.PutUint32(n[off:off+internalNodeKeySize], key)
}

// initializeLeafNode stamps a zeroed page as an empty non-root leaf.
func initializeLeafNode(n node) {
	n.setTyp(NodeLeaf)
	n.setRoot(false)
	n.setParent(0)
	n.setLeafNumCells(0)
	n.setLeafNextLeaf(0) // no sibling
}

// initializeInternalNode stamps a page as an empty non-root internal node.
// The right child starts at InvalidPageNum so that a fresh node is never
// mistaken for one with a wired-up rightmost child.
func initializeInternalNode(n node) {
	n.setTyp(NodeInternal)
	n.setRoot(false)
	n.setParent(0)
	n.setInternalNumKeys(0)
	n.setInternalRightChild(InvalidPageNum)
}
