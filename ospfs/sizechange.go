// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are ports of algorithms from the CS111 OSPFS
 * teaching filesystem (original_source/ospfsmod.c): change_size,
 * add_block, and remove_block.
 */

package ospfs

import "fmt"

// supportBlocksExtra returns how many index blocks (beyond the one
// data block) must be allocated, or freed, when file-block index b is
// added to, or removed from, a file: 0 within an existing tier, 1 when
// a new single-indirect block is needed (including the first one), or
// 2 the first time the double-indirect tier is entered.
//
// b == 0 is the first-block case and never needs support blocks.
func supportBlocksExtra(b uint32) int {
	if b == 0 {
		return 0
	}
	if indir2Index(b) != indir2Index(b-1) {
		return 2
	}
	if indirIndex(b) != indirIndex(b-1) {
		return 1
	}
	return 0
}

// ChangeSize grows or shrinks inode to exactly newSize bytes,
// allocating or freeing index and data blocks one block at a time.
//
// Growth is all-or-nothing: on out-of-space, any blocks allocated in
// this call are freed and the inode's block count and size are
// restored to what they were on entry. Shrink failures are only
// structural (a missing index block) and may leave the file partially
// shrunk; callers should treat that as an I/O error.
func (img *Image) ChangeSize(ino *Inode, newSize uint32) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	return img.changeSizeLocked(ino, newSize)
}

// changeSizeLocked is ChangeSize's body, callable by other Image
// methods that already hold img.mu for writing.
func (img *Image) changeSizeLocked(ino *Inode, newSize uint32) error {
	if ino.IsDir() && newSize < ino.Size() {
		return fmt.Errorf("%w: directories cannot shrink", ErrPermission)
	}

	wantBlocks := numBlocks(newSize)
	if wantBlocks > maxFileBlocks {
		return ErrFileTooLarge
	}

	oldSize := ino.Size()
	oldBlocks := numBlocks(oldSize)

	switch {
	case wantBlocks > oldBlocks:
		for n := oldBlocks; n < wantBlocks; n++ {
			if err := img.growOneBlock(ino, n); err != nil {
				img.rollbackGrowth(ino, n, oldBlocks)
				_ = ino.setSize(oldSize)
				return err
			}
		}
		return ino.setSize(newSize)

	case wantBlocks < oldBlocks:
		for n := oldBlocks; n > wantBlocks; n-- {
			if err := img.shrinkOneBlock(ino, n); err != nil {
				return fmt.Errorf("%w: shrink left file partially truncated: %v", ErrCorrupt, err)
			}
		}
		return ino.setSize(newSize)

	default:
		return ino.setSize(newSize)
	}
}

// rollbackGrowth undoes blocks added by growOneBlock for file-block
// indices [oldBlocks, failedAt), used after a mid-grow failure.
func (img *Image) rollbackGrowth(ino *Inode, failedAt, oldBlocks uint32) {
	for n := failedAt; n > oldBlocks; n-- {
		_ = img.shrinkOneBlock(ino, n)
	}
}

// growOneBlock adds file-block index n (the file currently holds
// exactly n blocks) to inode, allocating whatever support blocks are
// needed up front so the call is atomic with respect to out-of-space.
func (img *Image) growOneBlock(ino *Inode, n uint32) error {
	extra := supportBlocksExtra(n)

	var allocated []uint32
	rollback := func() {
		for _, b := range allocated {
			img.bm.free(b)
		}
	}
	allocate := func() (uint32, error) {
		b, err := img.bm.allocate()
		if err != nil {
			return 0, err
		}
		allocated = append(allocated, b)
		return b, nil
	}

	indexBlocks := make([]uint32, 0, extra)
	for i := 0; i < extra; i++ {
		b, err := allocate()
		if err != nil {
			rollback()
			return err
		}
		indexBlocks = append(indexBlocks, b)
	}

	dataBlock, err := allocate()
	if err != nil {
		rollback()
		return err
	}

	for _, b := range allocated {
		bytes, err := img.block(b)
		if err != nil {
			rollback()
			return err
		}
		zeroBlock(bytes)
	}

	if err := img.linkNewBlock(ino, n, extra, indexBlocks, dataBlock); err != nil {
		rollback()
		return err
	}

	return ino.setSize((n + 1) * BlockSize)
}

// linkNewBlock wires dataBlock (and any newly allocated index blocks)
// into inode's block-index tree for file-block index n.
func (img *Image) linkNewBlock(ino *Inode, n uint32, extra int, indexBlocks []uint32, dataBlock uint32) error {
	switch extra {
	case 2:
		// Entering the double-indirect tier for the first time: the
		// root and its first single-indirect child are both new.
		root, child := indexBlocks[0], indexBlocks[1]
		if err := ino.setIndirect2(root); err != nil {
			return err
		}
		if err := img.writeIndirEntry(root, indirIndex(n), child); err != nil {
			return err
		}
		return img.writeIndirEntry(child, directIndex(n), dataBlock)

	case 1:
		if indir2Index(n) == 0 {
			// The double-indirect root exists; this is a new
			// single-indirect child of it.
			child := indexBlocks[0]
			if err := img.writeIndirEntry(ino.indirect2(), indirIndex(n), child); err != nil {
				return err
			}
			return img.writeIndirEntry(child, directIndex(n), dataBlock)
		}
		// Transitioning from direct-only to having an indirect block.
		table := indexBlocks[0]
		if err := ino.setIndirect(table); err != nil {
			return err
		}
		return img.writeIndirEntry(table, directIndex(n), dataBlock)

	default:
		switch {
		case indir2Index(n) == 0:
			child, err := img.readIndirEntry(ino.indirect2(), indirIndex(n))
			if err != nil {
				return err
			}
			return img.writeIndirEntry(child, directIndex(n), dataBlock)
		case indirIndex(n) != -1:
			return img.writeIndirEntry(ino.indirect(), directIndex(n), dataBlock)
		default:
			return ino.setDirect(uint32(directIndex(n)), dataBlock)
		}
	}
}

// shrinkOneBlock removes the last block of inode, which currently
// holds exactly n blocks, freeing any index block that removal
// empties.
func (img *Image) shrinkOneBlock(ino *Inode, n uint32) error {
	m := n - 1

	dataBlock, err := ino.blockOf(m)
	if err != nil {
		return err
	}
	img.bm.free(dataBlock)

	switch supportBlocksExtra(m) {
	case 2:
		child, err := img.readIndirEntry(ino.indirect2(), indirIndex(m))
		if err != nil {
			return err
		}
		img.bm.free(child)
		img.bm.free(ino.indirect2())
		if err := ino.setIndirect2(0); err != nil {
			return err
		}

	case 1:
		if indir2Index(m) == 0 {
			child, err := img.readIndirEntry(ino.indirect2(), indirIndex(m))
			if err != nil {
				return err
			}
			img.bm.free(child)
			// child is gone; the double-indirect root must not keep
			// pointing at a freed block.
			if err := img.writeIndirEntry(ino.indirect2(), indirIndex(m), 0); err != nil {
				return err
			}
		} else {
			img.bm.free(ino.indirect())
			if err := ino.setIndirect(0); err != nil {
				return err
			}
		}

	default:
		// The containing table survives; don't leave a stale pointer
		// to the block just freed.
		if err := ino.clearBlockPointer(m); err != nil {
			return err
		}
	}

	return ino.setSize(m * BlockSize)
}
