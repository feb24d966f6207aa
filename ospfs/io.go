// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are ports of ospfs_read and ospfs_write from
 * the CS111 OSPFS teaching filesystem (original_source/ospfsmod.c).
 */

package ospfs

// ReadAt reads len(p) bytes from ino starting at off, following the
// block-index tree one block at a time. The read is clamped to the end
// of the file; unlike io.ReaderAt, a short read at end of file returns
// a nil error, and a read starting at or past the end returns (0, nil).
func (img *Image) ReadAt(ino *Inode, p []byte, off int64) (int, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()

	if !ino.IsRegular() {
		return 0, ErrIsDir
	}
	if off < 0 {
		return 0, ErrInvalidArgument
	}

	size := int64(ino.Size())
	if off >= size {
		return 0, nil
	}
	if off+int64(len(p)) > size {
		p = p[:size-off]
	}

	total := 0
	for total < len(p) {
		pos := off + int64(total)
		blockIdx := uint32(pos / BlockSize)
		blockOff := uint32(pos % BlockSize)

		blockno, err := ino.blockOf(blockIdx)
		if err != nil {
			return total, err
		}
		data, err := img.block(blockno)
		if err != nil {
			return total, err
		}

		n := copy(p[total:], data[blockOff:])
		total += n
	}

	return total, nil
}

// WriteAt writes len(p) bytes into ino at off, growing the file first
// if the write extends past the current size. Like ReadAt, it walks
// the block-index tree one block at a time, never assuming
// contiguity between file-block indices.
func (img *Image) WriteAt(ino *Inode, p []byte, off int64) (int, error) {
	if !ino.IsRegular() {
		return 0, ErrIsDir
	}
	if off < 0 {
		return 0, ErrInvalidArgument
	}

	end := off + int64(len(p))
	if end > int64(ino.Size()) {
		if err := img.ChangeSize(ino, uint32(end)); err != nil {
			return 0, err
		}
	}

	img.mu.Lock()
	defer img.mu.Unlock()

	total := 0
	for total < len(p) {
		pos := off + int64(total)
		blockIdx := uint32(pos / BlockSize)
		blockOff := uint32(pos % BlockSize)

		blockno, err := ino.blockOf(blockIdx)
		if err != nil {
			return total, err
		}
		data, err := img.block(blockno)
		if err != nil {
			return total, err
		}

		n := copy(data[blockOff:], p[total:])
		total += n
	}

	return total, nil
}

// Append writes p to the end of ino, returning the offset the write
// started at.
func (img *Image) Append(ino *Inode, p []byte) (int64, error) {
	off := int64(ino.Size())
	_, err := img.WriteAt(ino, p, off)
	return off, err
}
