// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ospfs

import "fmt"

// DefaultRootMode is the mode bits given to the root directory created
// by Format.
const DefaultRootMode = 0o755

// Format builds a fresh, empty image in memory: a boot block,
// superblock, free-block bitmap, inode table, and a single root
// directory inode, with no entries beyond the synthesized "." and
// "..". It is the in-scope counterpart of packing an image from an
// existing host directory tree, which this implementation doesn't do.
//
// nblocks is the total device size in BlockSize units; ninodes is the
// fixed size of the inode table. Format returns an error if nblocks is
// too small to hold the boot block, superblock, bitmap, inode table,
// and at least one data block.
func Format(nblocks, ninodes uint32) (*Image, error) {
	if ninodes == 0 {
		return nil, fmt.Errorf("%w: ninodes must be at least 1", ErrInvalidArgument)
	}

	bitmapBlocks := ceilDiv(nblocks, BlockSize*8)
	inodeTableBytes := uint64(ninodes) * inodeSize
	inodeTableBlocks := uint32(ceilDiv64(inodeTableBytes, BlockSize))

	firstInodeBlock := BootBlock + 1 /* superblock */ + bitmapBlocks
	firstDataBlock := firstInodeBlock + inodeTableBlocks

	if nblocks <= firstDataBlock {
		return nil, fmt.Errorf("%w: %d blocks is too small for %d inodes (need at least %d)",
			ErrNoSpace, nblocks, ninodes, firstDataBlock+1)
	}
	if ninodes <= RootIno {
		return nil, fmt.Errorf("%w: ninodes must leave room for the root inode", ErrInvalidArgument)
	}

	sb := SuperBlock{
		Magic:            SuperBlockMagic,
		NBlocks:          nblocks,
		NInodes:          ninodes,
		FirstInodeBlock:  firstInodeBlock,
		InodeTableBlocks: inodeTableBlocks,
		BitmapStartBlock: BootBlock + 1,
		BitmapBlocks:     bitmapBlocks,
		RootIno:          RootIno,
	}

	img := &Image{
		data: make([]byte, int64(nblocks)*BlockSize),
		sb:   sb,
	}

	if err := img.writeSuperBlock(); err != nil {
		return nil, err
	}

	img.bm = newBitmap(img)
	for i := firstDataBlock; i < nblocks; i++ {
		img.bm.setBit(i, true)
	}
	img.bm.rebuild()

	root, err := img.Inode(RootIno)
	if err != nil {
		return nil, err
	}
	if err := root.initDirectory(DefaultRootMode); err != nil {
		return nil, err
	}

	return img, nil
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

func ceilDiv64(a uint64, b uint32) uint64 {
	return (a + uint64(b) - 1) / uint64(b)
}
