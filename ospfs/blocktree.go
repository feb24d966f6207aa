// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are ports of algorithms from the CS111 OSPFS
 * teaching filesystem (original_source/ospfsmod.c): indir2_index,
 * indir_index, and direct_index.
 */

package ospfs

import (
	"encoding/binary"
	"fmt"
)

// indir2Index returns -1 if file-block index b doesn't need the
// double-indirect tier, or 0 otherwise (there is only one
// double-indirect block per inode).
func indir2Index(b uint32) int32 {
	if b < NDirect+NIndirect {
		return -1
	}
	if b < maxFileBlocks {
		return 0
	}
	return -1
}

// indirIndex returns -1 for a direct block, 0 for a block in the
// single-indirect tier, or the slot within the double-indirect block
// that holds the relevant single-indirect child.
func indirIndex(b uint32) int32 {
	switch {
	case b < NDirect:
		return -1
	case b < NDirect+NIndirect:
		return 0
	case b < maxFileBlocks:
		return int32((b - NDirect - NIndirect) / NIndirect)
	default:
		return -1
	}
}

// directIndex returns the slot within the containing table: the
// direct array, the single-indirect block, or the second-level
// single-indirect block.
func directIndex(b uint32) int32 {
	switch {
	case b < NDirect:
		return int32(b)
	case b < NDirect+NIndirect:
		return int32(b - NDirect)
	case b < maxFileBlocks:
		return int32((b - NDirect - NIndirect) % NIndirect)
	default:
		return -1
	}
}

// readIndirEntry returns the block number stored in the slot'th entry
// of the indirect block at device block table.
func (img *Image) readIndirEntry(table uint32, slot int32) (uint32, error) {
	b, err := img.block(table)
	if err != nil {
		return 0, err
	}
	if slot < 0 || int32(NIndirect) <= slot {
		return 0, fmt.Errorf("%w: indirect slot %d out of range", ErrCorrupt, slot)
	}
	return binary.LittleEndian.Uint32(b[slot*4:]), nil
}

// writeIndirEntry stores blockno in the slot'th entry of the indirect
// block at device block table.
func (img *Image) writeIndirEntry(table uint32, slot int32, blockno uint32) error {
	b, err := img.block(table)
	if err != nil {
		return err
	}
	if slot < 0 || int32(NIndirect) <= slot {
		return fmt.Errorf("%w: indirect slot %d out of range", ErrCorrupt, slot)
	}
	binary.LittleEndian.PutUint32(b[slot*4:], blockno)
	return nil
}

// blockOf maps file-block index b of inode to a device block number.
// The mapping is only defined for b < ceil(inode.Size()/BlockSize).
func (ino *Inode) blockOf(b uint32) (uint32, error) {
	switch {
	case b < NDirect:
		return ino.direct(b), nil

	case b < NDirect+NIndirect:
		return ino.img.readIndirEntry(ino.indirect(), int32(b-NDirect))

	case b < maxFileBlocks:
		off := b - NDirect - NIndirect
		child, err := ino.img.readIndirEntry(ino.indirect2(), int32(off/NIndirect))
		if err != nil {
			return 0, err
		}
		return ino.img.readIndirEntry(child, int32(off%NIndirect))

	default:
		return 0, ErrFileTooLarge
	}
}

// clearBlockPointer zeroes whatever slot holds file-block index b's
// data block number, leaving the containing table (direct array,
// single-indirect block, or double-indirect child block) in place.
// Callers that are also freeing the containing table itself (because
// it's now fully empty) zero the table's own slot in its parent
// instead; this only clears the innermost pointer to the data block.
func (ino *Inode) clearBlockPointer(b uint32) error {
	switch {
	case b < NDirect:
		return ino.setDirect(b, 0)

	case b < NDirect+NIndirect:
		return ino.img.writeIndirEntry(ino.indirect(), int32(b-NDirect), 0)

	case b < maxFileBlocks:
		off := b - NDirect - NIndirect
		child, err := ino.img.readIndirEntry(ino.indirect2(), int32(off/NIndirect))
		if err != nil {
			return err
		}
		return ino.img.writeIndirEntry(child, int32(off%NIndirect), 0)

	default:
		return ErrFileTooLarge
	}
}
