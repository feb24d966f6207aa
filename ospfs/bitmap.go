// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ospfs

import (
	"encoding/binary"

	"github.com/google/btree"
)

// bitmap is the free-block allocator (component B). "1 = free" is a
// hard convention: bit i of the bitmap region, addressed as word i/32
// (LSB-first within each 32-bit word), tracks block i of the device.
//
// The bitmap bytes in the image are the authoritative ownership
// ledger. tree is a cache of known free-block runs, ordered by
// starting block number, that lets allocate find a free block without
// rescanning the bitmap region from the front on every call — the
// design note's suggestion to replace a sequential scan with
// something faster, expressed as an ordered index instead of a
// trailing-zero-count word scan. The cache is rebuildable from the
// bitmap at any time (see rebuild). allocate takes its block from the
// cache without re-testing the bit, so allocate and free keep the
// cache and the bitmap bytes in step.
type bitmap struct {
	img    *Image
	region []byte
	tree   *btree.BTree
}

// freeExtent is one contiguous run of free blocks, [start, start+length).
type freeExtent struct {
	start  uint32
	length uint32
}

func (e freeExtent) Less(than btree.Item) bool {
	return e.start < than.(freeExtent).start
}

func newBitmap(img *Image) *bitmap {
	sb := img.sb
	off := int64(sb.BitmapStartBlock) * BlockSize
	size := int64(sb.BitmapBlocks) * BlockSize
	return &bitmap{
		img:    img,
		region: img.data[off : off+size],
		tree:   btree.New(8),
	}
}

// rebuild recomputes the free-extent cache by scanning the bitmap
// region from the first block past the inode table. It does not
// modify the bitmap bytes themselves.
func (bm *bitmap) rebuild() {
	bm.tree = btree.New(8)

	start := bm.img.firstDataBlock()
	var runStart uint32
	inRun := false

	for i := start; i < bm.img.sb.NBlocks; i++ {
		if bm.testBit(i) {
			if !inRun {
				runStart = i
				inRun = true
			}
		} else if inRun {
			bm.tree.ReplaceOrInsert(freeExtent{start: runStart, length: i - runStart})
			inRun = false
		}
	}
	if inRun {
		bm.tree.ReplaceOrInsert(freeExtent{start: runStart, length: bm.img.sb.NBlocks - runStart})
	}
}

// allocate returns the first free block at or past firstDataBlock,
// atomically marking it in-use, or ErrNoSpace if none remain. The
// scan is effectively sequential (lowest free block number wins), but
// performed against the extent cache rather than the raw bitmap.
func (bm *bitmap) allocate() (uint32, error) {
	min := bm.tree.Min()
	if min == nil {
		return 0, ErrNoSpace
	}

	e := min.(freeExtent)
	bm.tree.Delete(e)
	if e.length > 1 {
		bm.tree.ReplaceOrInsert(freeExtent{start: e.start + 1, length: e.length - 1})
	}

	bm.setBit(e.start, false)

	return e.start, nil
}

// free marks block n as free. No validation of whether n was
// previously allocated is performed; callers must not double-free.
func (bm *bitmap) free(n uint32) {
	bm.setBit(n, true)

	var mergedLeft *freeExtent
	bm.tree.DescendLessOrEqual(freeExtent{start: n}, func(item btree.Item) bool {
		e := item.(freeExtent)
		if e.start+e.length == n {
			mergedLeft = &e
		}
		return false
	})

	var rightLen uint32
	if item := bm.tree.Get(freeExtent{start: n + 1}); item != nil {
		right := item.(freeExtent)
		bm.tree.Delete(right)
		rightLen = right.length
	}

	if mergedLeft != nil {
		bm.tree.Delete(*mergedLeft)
		bm.tree.ReplaceOrInsert(freeExtent{start: mergedLeft.start, length: mergedLeft.length + 1 + rightLen})
	} else {
		bm.tree.ReplaceOrInsert(freeExtent{start: n, length: 1 + rightLen})
	}
}

func (bm *bitmap) testBit(i uint32) bool {
	word := binary.LittleEndian.Uint32(bm.region[(i/32)*4:])
	return word&(1<<(i%32)) != 0
}

func (bm *bitmap) setBit(i uint32, free bool) {
	off := (i / 32) * 4
	word := binary.LittleEndian.Uint32(bm.region[off:])
	if free {
		word |= 1 << (i % 32)
	} else {
		word &^= 1 << (i % 32)
	}
	binary.LittleEndian.PutUint32(bm.region[off:], word)
}
