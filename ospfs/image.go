// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on code originally from: github.com/dpeckett/archivefs
 */

package ospfs

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// SuperBlockMagic identifies a valid image.
const SuperBlockMagic = 0x0550465f // Stored little-endian: 5f 46 50 05.

// SuperBlock is the immutable-after-mkfs image header stored in block 1.
type SuperBlock struct {
	Magic            uint32
	NBlocks          uint32
	NInodes          uint32
	FirstInodeBlock  uint32
	InodeTableBlocks uint32
	BitmapStartBlock uint32
	BitmapBlocks     uint32
	RootIno          uint32
}

// Image is an open, mutable filesystem image: a flat byte array
// partitioned into fixed-size blocks, together with the derived
// bitmap and superblock state needed to interpret it.
//
// Apart from a copy of the superblock (immutable after Format) and the
// bitmap's free-extent cache, Image holds no cached copies of on-disk
// structures; every other accessor dereferences through data. Address
// of data must be stable for the Image's whole lifetime.
type Image struct {
	mu   sync.RWMutex
	data []byte
	sb   SuperBlock
	bm   *bitmap
}

// Open interprets buf as an existing filesystem image, validating its
// superblock and rebuilding the free-block extent cache.
//
// Ownership of buf is transferred to the Image; it must remain valid
// and must not be resized for the Image's lifetime.
func Open(buf []byte) (*Image, error) {
	img := &Image{data: buf}

	if err := img.readSuperBlock(); err != nil {
		return nil, err
	}

	img.bm = newBitmap(img)
	img.bm.rebuild()

	return img, nil
}

func (img *Image) readSuperBlock() error {
	if len(img.data) < 2*BlockSize {
		return fmt.Errorf("%w: image too small to hold a superblock", ErrCorrupt)
	}

	var sb SuperBlock
	if err := binary.Read(bytesReader(img.blockBytesUnchecked(SuperBlockNum)), binary.LittleEndian, &sb); err != nil {
		return fmt.Errorf("failed to read superblock: %w", err)
	}

	if sb.Magic != SuperBlockMagic {
		return fmt.Errorf("%w: bad magic 0x%x", ErrCorrupt, sb.Magic)
	}

	img.sb = sb

	if int64(img.sb.NBlocks)*BlockSize > int64(len(img.data)) {
		return fmt.Errorf("%w: superblock claims %d blocks, image only holds %d",
			ErrCorrupt, img.sb.NBlocks, len(img.data)/BlockSize)
	}

	return nil
}

func (img *Image) writeSuperBlock() error {
	return binary.Write(bytesWriter(img.blockBytesUnchecked(SuperBlockNum)), binary.LittleEndian, &img.sb)
}

// SuperBlock returns a copy of the image's superblock.
func (img *Image) SuperBlock() SuperBlock {
	return img.sb
}

// Blocks returns the total number of blocks in the image.
func (img *Image) Blocks() uint32 {
	return img.sb.NBlocks
}

// Bytes returns the image's backing storage. Callers must not resize
// it; in-place mutation is how every other Image method takes effect,
// so this is the hook for persisting an image to disk or a device.
func (img *Image) Bytes() []byte {
	return img.data
}

// block returns the byte range of block n, failing if n is out of range.
func (img *Image) block(n uint32) ([]byte, error) {
	if n >= img.sb.NBlocks {
		return nil, fmt.Errorf("%w: block %d out of range (nblocks=%d)", ErrCorrupt, n, img.sb.NBlocks)
	}
	return img.blockBytesUnchecked(n), nil
}

func (img *Image) blockBytesUnchecked(n uint32) []byte {
	off := int64(n) * BlockSize
	return img.data[off : off+BlockSize]
}

// firstDataBlock is the first block number the bitmap allocator may
// hand out: past the boot block, superblock, bitmap region, and inode
// table. The original source's allocator scans from first_inode_block
// instead, which can allocate an inode-table block; this starts past it.
func (img *Image) firstDataBlock() uint32 {
	return img.sb.FirstInodeBlock + img.sb.InodeTableBlocks
}

func bytesReader(b []byte) *sliceReader { return &sliceReader{b: b} }
func bytesWriter(b []byte) *sliceWriter { return &sliceWriter{b: b} }

// sliceReader/sliceWriter adapt a fixed byte slice to io.Reader/io.Writer
// without an extra allocation or bounds-growth surprise from bytes.Buffer.
type sliceReader struct {
	b   []byte
	off int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	n := copy(p, r.b[r.off:])
	r.off += n
	if n == 0 && len(p) > 0 {
		return 0, fmt.Errorf("%w: short read", ErrCorrupt)
	}
	return n, nil
}

type sliceWriter struct {
	b   []byte
	off int
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	if w.off+len(p) > len(w.b) {
		return 0, fmt.Errorf("%w: write overruns block", ErrCorrupt)
	}
	n := copy(w.b[w.off:], p)
	w.off += n
	return n, nil
}
