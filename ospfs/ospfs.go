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

// Package ospfs implements an in-memory, block-addressed Unix-style
// filesystem over a flat byte image, in the manner of the classic
// teaching filesystem it's named after: a superblock, a free-block
// bitmap, a fixed-size inode table, and a three-tier block-pointer
// index (direct / single-indirect / double-indirect) mapping file
// offsets to device blocks.
//
// Like erofs, this package does not cache decoded inodes, directory
// entries, or index blocks across calls; those accesses dereference
// through the image. The superblock copy and the bitmap's free-extent
// cache are the only state kept beside it.
package ospfs

import (
	"errors"
)

// Geometry constants. These must match the image; they are not
// recorded in the superblock.
const (
	// BlockSize is the fixed size, in bytes, of one block.
	BlockSize = 1024

	// NDirect is the number of direct block pointers in an inode.
	NDirect = 10

	// NIndirect is the fan-out of one indirect block (BlockSize / 4,
	// since block numbers are 32-bit).
	NIndirect = BlockSize / 4

	// DirentSize is the fixed stride, in bytes, of one directory entry.
	DirentSize = 128

	// MaxNameLen is the longest name (excluding the NUL terminator)
	// that may be stored in a directory entry.
	MaxNameLen = 56

	// inodeSize is the fixed on-disk size, in bytes, of one inode record.
	inodeSize = 64

	// MaxSymlinkLen is the longest link text an inode can store inline,
	// sized to exactly fill the direct/indirect/indirect2 payload region
	// a regular inode would otherwise use.
	MaxSymlinkLen = NDirect*4 + 4 + 4

	// BootBlock and SuperBlockNum are the fixed block numbers of the
	// boot sector and superblock.
	BootBlock     = 0
	SuperBlockNum = 1

	// RootIno is the inode number of the root directory. Inode 0 is
	// reserved and never allocated.
	RootIno = 1

	// maxFileBlocks is the number of file blocks representable by the
	// direct/single-indirect/double-indirect tiers; valid file-block
	// indices are 0 through maxFileBlocks-1.
	maxFileBlocks = NDirect + NIndirect + NIndirect*NIndirect
)

// FileType tags the kind of object an inode represents.
type FileType uint16

const (
	FtFree FileType = iota
	FtRegular
	FtDirectory
	FtSymlink
)

// Errors surfaced to callers, drawn from the taxonomy in the error
// handling design: structural (I/O), resource (no-space), user
// (name-too-long, already-exists, not-found), and permission.
var (
	// ErrNoSpace is returned when the free-block bitmap or the inode
	// table is exhausted. Growth is rolled back before this is returned.
	ErrNoSpace = errors.New("ospfs: no space left on device")

	// ErrNameTooLong is returned for a name exceeding MaxNameLen.
	ErrNameTooLong = errors.New("ospfs: name too long")

	// ErrSymlinkTooLong is returned for link text exceeding MaxSymlinkLen.
	ErrSymlinkTooLong = errors.New("ospfs: symlink target too long")

	// ErrExists is returned when a directory entry by that name is
	// already present.
	ErrExists = errors.New("ospfs: file exists")

	// ErrNotExist is returned when a name cannot be resolved.
	ErrNotExist = errors.New("ospfs: no such file or directory")

	// ErrNotDir is returned when a non-directory inode is used where a
	// directory is required.
	ErrNotDir = errors.New("ospfs: not a directory")

	// ErrIsDir is returned when a directory is used where a regular
	// file or symlink is required.
	ErrIsDir = errors.New("ospfs: is a directory")

	// ErrInvalidArgument covers malformed calls (bad inode number,
	// out-of-range offset, a hard link attempted against a directory).
	ErrInvalidArgument = errors.New("ospfs: invalid argument")

	// ErrPermission is returned for notify_change attempting to resize
	// a directory.
	ErrPermission = errors.New("ospfs: permission denied")

	// ErrFileTooLarge is returned when a size exceeds what the
	// direct/indirect/double-indirect tiers can represent.
	ErrFileTooLarge = errors.New("ospfs: file too large")

	// ErrCorrupt signals a structural inconsistency in the image: an
	// index block the tree says must exist is missing, misaligned, or
	// out of range.
	ErrCorrupt = errors.New("ospfs: corrupt filesystem image")

	// ErrJournalNotImplemented is returned by ReplayJournal. The
	// original source reads into a buffer it never populates with
	// journal data (it prints uninitialized memory); this is a
	// deliberate stub rather than a port of that bug.
	ErrJournalNotImplemented = errors.New("ospfs: journal replay is not implemented")
)

func numBlocks(size uint32) uint32 {
	return (size + BlockSize - 1) / BlockSize
}

func zeroBlock(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
