package btree

import (
	"fmt"

	"dbkernel/pkg/logging"
	"dbkernel/pkg/primitives"
	"dbkernel/pkg/storage/buffer"
	"dbkernel/pkg/types"
)

// Delete removes key from the index. Returns ErrKeyNotFound if key is
// absent.
func (t *Tree) Delete(key types.Field) error {
	root, err := t.rootPageNo()
	if err != nil {
		return err
	}
	if root == primitives.InvalidPageNumber {
		return ErrKeyNotFound
	}

	var stack []*ancestorFrame
	g, err := t.bpm.FetchPageWrite(t.pid(root))
	if err != nil {
		return err
	}

	for {
		data := g.Page().Data[:]
		if isLeafPage(data) {
			leaf := decodeLeaf(data, t.codec)
			idx := findLeafIndex(leaf, key)
			if idx == -1 {
				g.Release()
				releaseStack(stack)
				return ErrKeyNotFound
			}

			leaf.entries = append(leaf.entries[:idx], leaf.entries[idx+1:]...)
			encodeLeaf(data, leaf, t.codec)

			if leaf.header.parent == primitives.InvalidPageNumber {
				if len(leaf.entries) == 0 {
					g.Release()
					releaseStack(stack)
					return t.swingRoot(primitives.InvalidPageNumber)
				}
				g.Release()
				releaseStack(stack)
				return nil
			}

			if len(leaf.entries) >= leafMinSize(t.leafMax) {
				g.Release()
				releaseStack(stack)
				return nil
			}

			return t.handleLeafUnderflow(g, leaf, stack)
		}

		internal := decodeInternal(data, t.codec)
		childPN := findChild(internal, key, t.codec)
		childGuard, err := t.bpm.FetchPageWrite(t.pid(childPN))
		if err != nil {
			g.Release()
			releaseStack(stack)
			return err
		}

		childData := childGuard.Page().Data[:]
		var safe bool
		if isLeafPage(childData) {
			safe = decodeLeaf(childData, t.codec).isSafeForDelete(t.leafMax)
		} else {
			safe = decodeInternal(childData, t.codec).isSafeForDelete(t.internalMax)
		}

		if safe {
			g.Release()
			releaseStack(stack)
			stack = nil
		} else {
			stack = append(stack, &ancestorFrame{guard: g, node: internal})
		}
		g = childGuard
	}
}

// afterChildRemoved finishes a merge that just shrank parent's child
// list: a root that drops to one child collapses onto it, a non-root
// parent that falls below the minimum child count underflows in turn.
func (t *Tree) afterChildRemoved(frame *ancestorFrame, parent *internalNode, remaining []*ancestorFrame) error {
	selfPN := frame.guard.ID().PageNo()

	if parent.header.parent == primitives.InvalidPageNumber {
		if len(parent.children) == 1 {
			onlyChild := parent.children[0].child
			frame.guard.Release()
			if err := t.bpm.DeletePage(t.pid(selfPN)); err != nil {
				return fmt.Errorf("btree: deleting collapsed root: %w", err)
			}
			if err := t.reparentChild(onlyChild, primitives.InvalidPageNumber); err != nil {
				releaseStack(remaining)
				return err
			}
			releaseStack(remaining)
			return t.swingRoot(onlyChild)
		}
		frame.guard.Release()
		releaseStack(remaining)
		return nil
	}

	if len(parent.children) >= internalMinChildren(t.internalMax) {
		frame.guard.Release()
		releaseStack(remaining)
		return nil
	}

	return t.handleInternalUnderflow(frame.guard, parent, remaining)
}

func (t *Tree) mergeLeaves(leftGuard *buffer.WriteGuard, leftLeaf *leafNode, rightGuard *buffer.WriteGuard, rightLeaf *leafNode, frame *ancestorFrame, parent *internalNode, leftIdx int, remaining []*ancestorFrame) error {
	leftLeaf.entries = append(leftLeaf.entries, rightLeaf.entries...)
	leftLeaf.nextLeaf = rightLeaf.nextLeaf
	encodeLeaf(leftGuard.Page().Data[:], leftLeaf, t.codec)

	rightPN := rightGuard.ID().PageNo()
	leftGuard.Release()
	rightGuard.Release()
	if err := t.bpm.DeletePage(t.pid(rightPN)); err != nil {
		frame.guard.Release()
		releaseStack(remaining)
		return fmt.Errorf("btree: deleting merged leaf: %w", err)
	}

	parent.children = append(parent.children[:leftIdx+1], parent.children[leftIdx+2:]...)
	encodeInternal(frame.guard.Page().Data[:], parent, t.codec)

	logging.WithIndex(t.fileID.String()).Debug("leaves merged", "survivor", leftGuard.ID().PageNo(), "removed", rightPN)
	return t.afterChildRemoved(frame, parent, remaining)
}

func (t *Tree) handleLeafUnderflow(leafGuard *buffer.WriteGuard, leaf *leafNode, stack []*ancestorFrame) error {
	frame := stack[len(stack)-1]
	remaining := stack[:len(stack)-1]
	parent := frame.node
	idx := findChildIndex(parent, leafGuard.ID().PageNo())
	if idx == -1 {
		panic("btree: leaf not found among its parent's children")
	}

	if idx > 0 {
		leftPN := parent.children[idx-1].child
		leftGuard, err := t.bpm.FetchPageWrite(t.pid(leftPN))
		if err != nil {
			leafGuard.Release()
			frame.guard.Release()
			releaseStack(remaining)
			return err
		}
		leftLeaf := decodeLeaf(leftGuard.Page().Data[:], t.codec)

		if len(leftLeaf.entries) > leafMinSize(t.leafMax) {
			moved := leftLeaf.entries[len(leftLeaf.entries)-1]
			leftLeaf.entries = leftLeaf.entries[:len(leftLeaf.entries)-1]
			leaf.entries = append([]leafEntry{moved}, leaf.entries...)
			parent.children[idx].key = leaf.entries[0].key

			encodeLeaf(leftGuard.Page().Data[:], leftLeaf, t.codec)
			encodeLeaf(leafGuard.Page().Data[:], leaf, t.codec)
			encodeInternal(frame.guard.Page().Data[:], parent, t.codec)

			leftGuard.Release()
			leafGuard.Release()
			frame.guard.Release()
			releaseStack(remaining)
			return nil
		}

		if idx == len(parent.children)-1 {
			return t.mergeLeaves(leftGuard, leftLeaf, leafGuard, leaf, frame, parent, idx-1, remaining)
		}

		rightPN := parent.children[idx+1].child
		rightGuard, err := t.bpm.FetchPageWrite(t.pid(rightPN))
		if err != nil {
			leftGuard.Release()
			leafGuard.Release()
			frame.guard.Release()
			releaseStack(remaining)
			return err
		}
		rightLeaf := decodeLeaf(rightGuard.Page().Data[:], t.codec)

		if len(rightLeaf.entries) > leafMinSize(t.leafMax) {
			leftGuard.Release()
			moved := rightLeaf.entries[0]
			rightLeaf.entries = rightLeaf.entries[1:]
			leaf.entries = append(leaf.entries, moved)
			parent.children[idx+1].key = rightLeaf.entries[0].key

			encodeLeaf(rightGuard.Page().Data[:], rightLeaf, t.codec)
			encodeLeaf(leafGuard.Page().Data[:], leaf, t.codec)
			encodeInternal(frame.guard.Page().Data[:], parent, t.codec)

			rightGuard.Release()
			leafGuard.Release()
			frame.guard.Release()
			releaseStack(remaining)
			return nil
		}

		rightGuard.Release()
		return t.mergeLeaves(leftGuard, leftLeaf, leafGuard, leaf, frame, parent, idx-1, remaining)
	}

	rightPN := parent.children[idx+1].child
	rightGuard, err := t.bpm.FetchPageWrite(t.pid(rightPN))
	if err != nil {
		leafGuard.Release()
		frame.guard.Release()
		releaseStack(remaining)
		return err
	}
	rightLeaf := decodeLeaf(rightGuard.Page().Data[:], t.codec)

	if len(rightLeaf.entries) > leafMinSize(t.leafMax) {
		moved := rightLeaf.entries[0]
		rightLeaf.entries = rightLeaf.entries[1:]
		leaf.entries = append(leaf.entries, moved)
		parent.children[idx+1].key = rightLeaf.entries[0].key

		encodeLeaf(rightGuard.Page().Data[:], rightLeaf, t.codec)
		encodeLeaf(leafGuard.Page().Data[:], leaf, t.codec)
		encodeInternal(frame.guard.Page().Data[:], parent, t.codec)

		rightGuard.Release()
		leafGuard.Release()
		frame.guard.Release()
		releaseStack(remaining)
		return nil
	}

	return t.mergeLeaves(leafGuard, leaf, rightGuard, rightLeaf, frame, parent, idx, remaining)
}

func (t *Tree) mergeInternal(leftGuard *buffer.WriteGuard, leftNode *internalNode, rightGuard *buffer.WriteGuard, rightNode *internalNode, descendingSeparator types.Field, frame *ancestorFrame, parent *internalNode, leftIdx int, remaining []*ancestorFrame) error {
	leftPN := leftGuard.ID().PageNo()
	rightNode.children[0] = childEntry{key: descendingSeparator, child: rightNode.children[0].child}

	for _, ch := range rightNode.children {
		if err := t.reparentChild(ch.child, leftPN); err != nil {
			leftGuard.Release()
			rightGuard.Release()
			frame.guard.Release()
			releaseStack(remaining)
			return err
		}
	}
	leftNode.children = append(leftNode.children, rightNode.children...)
	encodeInternal(leftGuard.Page().Data[:], leftNode, t.codec)

	rightPN := rightGuard.ID().PageNo()
	leftGuard.Release()
	rightGuard.Release()
	if err := t.bpm.DeletePage(t.pid(rightPN)); err != nil {
		frame.guard.Release()
		releaseStack(remaining)
		return fmt.Errorf("btree: deleting merged internal node: %w", err)
	}

	parent.children = append(parent.children[:leftIdx+1], parent.children[leftIdx+2:]...)
	encodeInternal(frame.guard.Page().Data[:], parent, t.codec)

	logging.WithIndex(t.fileID.String()).Debug("internal nodes merged", "survivor", leftPN, "removed", rightPN)
	return t.afterChildRemoved(frame, parent, remaining)
}

func (t *Tree) handleInternalUnderflow(guard *buffer.WriteGuard, node *internalNode, stack []*ancestorFrame) error {
	if len(stack) == 0 {
		// Root is exempt from the minimum-children bound.
		guard.Release()
		return nil
	}

	frame := stack[len(stack)-1]
	remaining := stack[:len(stack)-1]
	parent := frame.node
	idx := findChildIndex(parent, guard.ID().PageNo())
	if idx == -1 {
		panic("btree: internal node not found among its parent's children")
	}

	if idx > 0 {
		leftPN := parent.children[idx-1].child
		leftGuard, err := t.bpm.FetchPageWrite(t.pid(leftPN))
		if err != nil {
			guard.Release()
			frame.guard.Release()
			releaseStack(remaining)
			return err
		}
		leftNode := decodeInternal(leftGuard.Page().Data[:], t.codec)

		if len(leftNode.children) > internalMinChildren(t.internalMax) {
			movedChild := leftNode.children[len(leftNode.children)-1]
			leftNode.children = leftNode.children[:len(leftNode.children)-1]

			descendingKey := parent.children[idx].key
			if len(node.children) > 0 {
				node.children[0].key = descendingKey
			}
			node.children = append([]childEntry{{key: nil, child: movedChild.child}}, node.children...)
			parent.children[idx].key = movedChild.key

			if err := t.reparentChild(movedChild.child, guard.ID().PageNo()); err != nil {
				leftGuard.Release()
				guard.Release()
				frame.guard.Release()
				releaseStack(remaining)
				return err
			}

			encodeInternal(leftGuard.Page().Data[:], leftNode, t.codec)
			encodeInternal(guard.Page().Data[:], node, t.codec)
			encodeInternal(frame.guard.Page().Data[:], parent, t.codec)

			leftGuard.Release()
			guard.Release()
			frame.guard.Release()
			releaseStack(remaining)
			return nil
		}

		if idx == len(parent.children)-1 {
			return t.mergeInternal(leftGuard, leftNode, guard, node, parent.children[idx].key, frame, parent, idx-1, remaining)
		}

		rightPN := parent.children[idx+1].child
		rightGuard, err := t.bpm.FetchPageWrite(t.pid(rightPN))
		if err != nil {
			leftGuard.Release()
			guard.Release()
			frame.guard.Release()
			releaseStack(remaining)
			return err
		}
		rightNode := decodeInternal(rightGuard.Page().Data[:], t.codec)

		if len(rightNode.children) > internalMinChildren(t.internalMax) {
			leftGuard.Release()
			movedChild := rightNode.children[0]
			rightNode.children = rightNode.children[1:]
			node.children = append(node.children, childEntry{key: parent.children[idx+1].key, child: movedChild.child})
			if len(rightNode.children) > 0 {
				parent.children[idx+1].key = rightNode.children[0].key
				rightNode.children[0].key = nil
			}

			if err := t.reparentChild(movedChild.child, guard.ID().PageNo()); err != nil {
				rightGuard.Release()
				guard.Release()
				frame.guard.Release()
				releaseStack(remaining)
				return err
			}

			encodeInternal(rightGuard.Page().Data[:], rightNode, t.codec)
			encodeInternal(guard.Page().Data[:], node, t.codec)
			encodeInternal(frame.guard.Page().Data[:], parent, t.codec)

			rightGuard.Release()
			guard.Release()
			frame.guard.Release()
			releaseStack(remaining)
			return nil
		}

		rightGuard.Release()
		return t.mergeInternal(leftGuard, leftNode, guard, node, parent.children[idx].key, frame, parent, idx-1, remaining)
	}

	rightPN := parent.children[idx+1].child
	rightGuard, err := t.bpm.FetchPageWrite(t.pid(rightPN))
	if err != nil {
		guard.Release()
		frame.guard.Release()
		releaseStack(remaining)
		return err
	}
	rightNode := decodeInternal(rightGuard.Page().Data[:], t.codec)

	if len(rightNode.children) > internalMinChildren(t.internalMax) {
		movedChild := rightNode.children[0]
		rightNode.children = rightNode.children[1:]
		node.children = append(node.children, childEntry{key: parent.children[idx+1].key, child: movedChild.child})
		if len(rightNode.children) > 0 {
			parent.children[idx+1].key = rightNode.children[0].key
			rightNode.children[0].key = nil
		}

		if err := t.reparentChild(movedChild.child, guard.ID().PageNo()); err != nil {
			rightGuard.Release()
			guard.Release()
			frame.guard.Release()
			releaseStack(remaining)
			return err
		}

		encodeInternal(rightGuard.Page().Data[:], rightNode, t.codec)
		encodeInternal(guard.Page().Data[:], node, t.codec)
		encodeInternal(frame.guard.Page().Data[:], parent, t.codec)

		rightGuard.Release()
		guard.Release()
		frame.guard.Release()
		releaseStack(remaining)
		return nil
	}

	return t.mergeInternal(guard, node, rightGuard, rightNode, parent.children[idx+1].key, frame, parent, idx, remaining)
}
