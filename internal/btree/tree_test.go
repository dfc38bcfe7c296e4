package btree

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowdb/internal/pager"
	"rowdb/internal/row"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	p, err := pager.Open(afero.NewMemMapFs(), "test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	tree, err := New(p)
	require.NoError(t, err)
	return tree
}

func testValue(t *testing.T, key uint32) []byte {
	t.Helper()
	buf := make([]byte, row.Size)
	r := row.Row{ID: key, Username: fmt.Sprintf("user%d", key), Email: fmt.Sprintf("user%d@example.com", key)}
	require.NoError(t, row.Serialize(r, buf))
	return buf
}

func insertKey(t *testing.T, tree *Tree, key uint32) {
	t.Helper()
	c, err := tree.Find(key)
	require.NoError(t, err)
	require.NoError(t, tree.LeafInsert(c, key, testValue(t, key)))
}

// scanKeys walks the sibling chain from the leftmost leaf and returns every
// key in traversal order.
func scanKeys(t *testing.T, tree *Tree) []uint32 {
	t.Helper()
	var keys []uint32
	c, err := tree.Start()
	require.NoError(t, err)
	for !c.EndOfTable() {
		key, err := c.Key()
		require.NoError(t, err)
		keys = append(keys, key)
		require.NoError(t, c.Advance())
	}
	return keys
}

// subtreeMaxKey recomputes a subtree's max key from NodeInfo snapshots.
func subtreeMaxKey(t *testing.T, tree *Tree, pageNum uint32) uint32 {
	t.Helper()
	info, err := tree.Describe(pageNum)
	require.NoError(t, err)
	if info.Type == NodeLeaf {
		require.NotEmpty(t, info.Keys, "page %d: empty leaf has no max key", pageNum)
		return info.Keys[len(info.Keys)-1]
	}
	return subtreeMaxKey(t, tree, info.Children[len(info.Children)-1])
}

// checkInvariants verifies the structural laws of the tree: strictly
// ascending keys in every node, the internal key law, parent linkage, and
// full sibling-chain coverage.
func checkInvariants(t *testing.T, tree *Tree) {
	t.Helper()

	var leaves []NodeInfo
	parentOf := map[uint32]uint32{}

	err := tree.Walk(func(info NodeInfo) error {
		for i := 1; i < len(info.Keys); i++ {
			assert.Less(t, info.Keys[i-1], info.Keys[i], "page %d: keys out of order", info.PageNum)
		}

		if info.PageNum == RootPageNum {
			assert.True(t, info.IsRoot, "page 0 must be the root")
			assert.Equal(t, uint32(0), info.Parent)
		} else {
			assert.False(t, info.IsRoot, "page %d: non-root marked root", info.PageNum)
			wantParent, ok := parentOf[info.PageNum]
			require.True(t, ok, "page %d reached without a recorded parent", info.PageNum)
			assert.Equal(t, wantParent, info.Parent, "page %d: bad parent pointer", info.PageNum)
		}

		switch info.Type {
		case NodeLeaf:
			leaves = append(leaves, info)
		case NodeInternal:
			for _, child := range info.Children {
				parentOf[child] = info.PageNum
			}
			// Each separator equals the max key of the child to its left,
			// and the right child strictly exceeds the last separator.
			for i, key := range info.Keys {
				assert.Equal(t, key, subtreeMaxKey(t, tree, info.Children[i]),
					"page %d: separator %d does not match child max", info.PageNum, i)
			}
			if len(info.Keys) > 0 {
				assert.Greater(t, subtreeMaxKey(t, tree, info.Children[len(info.Children)-1]),
					info.Keys[len(info.Keys)-1],
					"page %d: right child does not exceed last separator", info.PageNum)
			}
		}
		return nil
	})
	require.NoError(t, err)

	// The sibling chain must visit every leaf exactly once, left to right.
	leafByPage := map[uint32]NodeInfo{}
	for _, l := range leaves {
		leafByPage[l.PageNum] = l
	}

	chainKeys := scanKeys(t, tree)
	var allKeys []uint32
	for _, l := range leaves {
		allKeys = append(allKeys, l.Keys...)
	}
	sort.Slice(allKeys, func(i, j int) bool { return allKeys[i] < allKeys[j] })
	assert.Equal(t, allKeys, chainKeys, "sibling chain does not cover all leaves in order")

	// Walk the chain explicitly and count the hops.
	c, err := tree.Start()
	require.NoError(t, err)
	visited := map[uint32]bool{c.PageNum(): true}
	cur, ok := leafByPage[c.PageNum()]
	require.True(t, ok, "start cursor not on a reachable leaf")
	for cur.NextLeaf != 0 {
		next, ok := leafByPage[cur.NextLeaf]
		require.True(t, ok, "sibling pointer %d leaves the tree", cur.NextLeaf)
		require.False(t, visited[next.PageNum], "sibling chain revisits page %d", next.PageNum)
		visited[next.PageNum] = true
		cur = next
	}
	assert.Len(t, visited, len(leaves), "sibling chain misses leaves")
}

func TestEmptyTreeStart(t *testing.T) {
	tree := newTestTree(t)

	c, err := tree.Start()
	require.NoError(t, err)
	assert.True(t, c.EndOfTable())

	info, err := tree.Describe(RootPageNum)
	require.NoError(t, err)
	assert.Equal(t, NodeLeaf, info.Type)
	assert.True(t, info.IsRoot)
	assert.Empty(t, info.Keys)
}

func TestInsertSingleLeaf(t *testing.T) {
	tree := newTestTree(t)
	for key := uint32(1); key <= LeafNodeMaxCells; key++ {
		insertKey(t, tree, key)
	}

	info, err := tree.Describe(RootPageNum)
	require.NoError(t, err)
	assert.Equal(t, NodeLeaf, info.Type, "13 rows must still fit in the root leaf")
	assert.Len(t, info.Keys, LeafNodeMaxCells)
	checkInvariants(t, tree)
}

func TestLeafSplitCreatesRoot(t *testing.T) {
	tree := newTestTree(t)
	for key := uint32(1); key <= LeafNodeMaxCells+1; key++ {
		insertKey(t, tree, key)
	}

	root, err := tree.Describe(RootPageNum)
	require.NoError(t, err)
	require.Equal(t, NodeInternal, root.Type, "14th insert must split the root leaf")
	require.Len(t, root.Keys, 1)
	require.Len(t, root.Children, 2)

	left, err := tree.Describe(root.Children[0])
	require.NoError(t, err)
	right, err := tree.Describe(root.Children[1])
	require.NoError(t, err)

	assert.Len(t, left.Keys, LeafNodeLeftSplitCount)
	assert.Len(t, right.Keys, LeafNodeRightSplitCount)
	assert.Equal(t, left.Keys[len(left.Keys)-1], root.Keys[0])

	// Both halves hang off the new root at page 0.
	assert.Equal(t, uint32(RootPageNum), left.Parent)
	assert.Equal(t, uint32(RootPageNum), right.Parent)

	// The halves are linked left to right and the chain terminates.
	assert.Equal(t, right.PageNum, left.NextLeaf)
	assert.Equal(t, uint32(0), right.NextLeaf)

	assert.Equal(t, seq(1, LeafNodeMaxCells+1), scanKeys(t, tree))
	checkInvariants(t, tree)
}

func TestInternalRootSplit(t *testing.T) {
	tree := newTestTree(t)

	// Ascending inserts grow a leaf every seven keys; the root runs out of
	// separator slots and splits somewhere past thirty keys.
	const n = 40
	for key := uint32(1); key <= n; key++ {
		insertKey(t, tree, key)
	}

	root, err := tree.Describe(RootPageNum)
	require.NoError(t, err)
	require.Equal(t, NodeInternal, root.Type)

	firstChild, err := tree.Describe(root.Children[0])
	require.NoError(t, err)
	require.Equal(t, NodeInternal, firstChild.Type, "tree must be three levels deep")

	for _, child := range root.Children {
		info, err := tree.Describe(child)
		require.NoError(t, err)
		assert.Equal(t, uint32(RootPageNum), info.Parent)
	}

	assert.Equal(t, seq(1, n), scanKeys(t, tree))
	checkInvariants(t, tree)
}

func TestOutOfOrderInserts(t *testing.T) {
	tree := newTestTree(t)

	keys := []uint32{
		18, 7, 10, 29, 23, 4, 14, 30, 15, 26,
		22, 19, 2, 1, 21, 11, 6, 20, 5, 8,
		9, 3, 12, 27, 17, 16, 13, 24, 25, 28,
	}
	for _, key := range keys {
		insertKey(t, tree, key)
	}

	root, err := tree.Describe(RootPageNum)
	require.NoError(t, err)
	require.Equal(t, NodeInternal, root.Type)
	assert.LessOrEqual(t, len(root.Keys), InternalNodeMaxKeys)

	assert.Equal(t, seq(1, uint32(len(keys))), scanKeys(t, tree))
	checkInvariants(t, tree)
}

func TestRandomizedWorkload(t *testing.T) {
	tree := newTestTree(t)

	rng := rand.New(rand.NewSource(42))
	perm := rng.Perm(80)
	for _, i := range perm {
		insertKey(t, tree, uint32(i+1))
	}

	assert.Equal(t, seq(1, 80), scanKeys(t, tree))
	checkInvariants(t, tree)
}

func TestFindPositions(t *testing.T) {
	tree := newTestTree(t)
	for _, key := range []uint32{10, 20, 30} {
		insertKey(t, tree, key)
	}

	c, err := tree.Find(20)
	require.NoError(t, err)
	key, err := c.Key()
	require.NoError(t, err)
	assert.Equal(t, uint32(20), key)

	// A missing key lands on its insertion slot: the first cell >= target.
	c, err = tree.Find(25)
	require.NoError(t, err)
	key, err = c.Key()
	require.NoError(t, err)
	assert.Equal(t, uint32(30), key)

	// Past every key lands one past the last cell.
	c, err = tree.Find(99)
	require.NoError(t, err)
	numCells, err := c.NumCells()
	require.NoError(t, err)
	assert.Equal(t, numCells, c.CellNum())
}

func TestLeafDelete(t *testing.T) {
	tree := newTestTree(t)
	for key := uint32(1); key <= 20; key++ {
		insertKey(t, tree, key)
	}

	del := func(key uint32) {
		c, err := tree.Find(key)
		require.NoError(t, err)
		require.NoError(t, tree.LeafDelete(c))
	}

	del(3)
	del(10)

	want := []uint32{1, 2, 4, 5, 6, 7, 8, 9, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	assert.Equal(t, want, scanKeys(t, tree))
}

func TestDeleteLastRowOfRightmostLeaf(t *testing.T) {
	tree := newTestTree(t)
	for key := uint32(1); key <= LeafNodeMaxCells+1; key++ {
		insertKey(t, tree, key)
	}

	c, err := tree.Find(LeafNodeMaxCells + 1)
	require.NoError(t, err)
	require.NoError(t, tree.LeafDelete(c))

	// The scan still terminates at the chain sentinel.
	assert.Equal(t, seq(1, LeafNodeMaxCells), scanKeys(t, tree))
}

func TestDumpShape(t *testing.T) {
	tree := newTestTree(t)
	for key := uint32(1); key <= LeafNodeMaxCells+1; key++ {
		insertKey(t, tree, key)
	}

	var buf bytes.Buffer
	require.NoError(t, tree.Dump(&buf))

	out := buf.String()
	assert.Contains(t, out, "- internal (size 1)")
	assert.Contains(t, out, "- leaf (size 7)")
	assert.Contains(t, out, fmt.Sprintf("- key %d", LeafNodeLeftSplitCount))
}

func TestConstantsDump(t *testing.T) {
	var buf bytes.Buffer
	Constants(&buf)

	out := buf.String()
	assert.Contains(t, out, "ROW_SIZE: 293")
	assert.Contains(t, out, "LEAF_NODE_MAX_CELLS: 13")
	assert.Contains(t, out, "INTERNAL_NODE_MAX_KEYS: 3")
}

// seq returns lo..hi inclusive.
func seq(lo, hi uint32) []uint32 {
	keys := make([]uint32, 0, hi-lo+1)
	for k := lo; k <= hi; k++ {
		keys = append(keys, k)
	}
	return keys
}
