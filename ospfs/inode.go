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
	"fmt"
)

// Layout of the payload region within a raw inode record: either
// NDirect+2 block pointers (direct array, indirect, indirect2) or, for
// a symlink, up to MaxSymlinkLen bytes of inline link text.
const (
	payloadLen    = NDirect*4 + 4 + 4
	indirectOff   = NDirect * 4
	indirect2Off  = indirectOff + 4
	rawHeaderSize = 2 + 2 + 4 + 4 + 4 // Type, Mode, Nlink, Size, reserved
)

// rawInode is the fixed inodeSize-byte on-disk inode record.
type rawInode struct {
	Type    uint16
	Mode    uint16
	Nlink   uint32
	Size    uint32
	_       uint32 // reserved, pads the record to inodeSize
	Payload [payloadLen]byte
}

func init() {
	if rawHeaderSize+payloadLen != inodeSize {
		panic("ospfs: inode record layout does not match inodeSize")
	}
}

// Inode identifies one inode-table slot and reads/writes through to
// the image on every access; nothing is cached.
type Inode struct {
	img *Image
	num uint32
}

// Inode returns the inode identified by num, or an error if num is out
// of range. Inode 0 is reserved and is never handed out by allocation,
// but may still be addressed (it reads back as free).
func (img *Image) Inode(num uint32) (*Inode, error) {
	if num >= img.sb.NInodes {
		return nil, fmt.Errorf("%w: inode %d out of range (ninodes=%d)", ErrInvalidArgument, num, img.sb.NInodes)
	}
	return &Inode{img: img, num: num}, nil
}

// Num returns the inode number.
func (ino *Inode) Num() uint32 {
	return ino.num
}

func (ino *Inode) offset() int64 {
	return int64(ino.img.sb.FirstInodeBlock)*BlockSize + int64(ino.num)*inodeSize
}

func (ino *Inode) read() (rawInode, error) {
	var raw rawInode
	off := ino.offset()
	if off+inodeSize > int64(len(ino.img.data)) {
		return raw, fmt.Errorf("%w: inode %d offset out of range", ErrCorrupt, ino.num)
	}
	buf := ino.img.data[off : off+inodeSize]
	if err := binary.Read(bytesReader(buf), binary.LittleEndian, &raw); err != nil {
		return raw, fmt.Errorf("failed to read inode %d: %w", ino.num, err)
	}
	return raw, nil
}

func (ino *Inode) write(raw rawInode) error {
	off := ino.offset()
	buf := ino.img.data[off : off+inodeSize]
	if err := binary.Write(bytesWriter(buf), binary.LittleEndian, &raw); err != nil {
		return fmt.Errorf("failed to write inode %d: %w", ino.num, err)
	}
	return nil
}

// Type returns the inode's file type.
func (ino *Inode) Type() FileType {
	raw, err := ino.read()
	if err != nil {
		return FtFree
	}
	return FileType(raw.Type)
}

// IsFree reports whether the inode is unused (nlink == 0).
func (ino *Inode) IsFree() bool {
	return ino.Nlink() == 0
}

// IsDir reports whether the inode is a directory.
func (ino *Inode) IsDir() bool {
	return ino.Type() == FtDirectory
}

// IsSymlink reports whether the inode is a symbolic link.
func (ino *Inode) IsSymlink() bool {
	return ino.Type() == FtSymlink
}

// IsRegular reports whether the inode is a regular file.
func (ino *Inode) IsRegular() bool {
	return ino.Type() == FtRegular
}

// Mode returns the permission/mode bits.
func (ino *Inode) Mode() uint16 {
	raw, _ := ino.read()
	return raw.Mode
}

// SetMode updates the permission/mode bits in place.
func (ino *Inode) SetMode(mode uint16) error {
	raw, err := ino.read()
	if err != nil {
		return err
	}
	raw.Mode = mode
	return ino.write(raw)
}

// Nlink returns the hard-link count.
func (ino *Inode) Nlink() uint32 {
	raw, err := ino.read()
	if err != nil {
		return 0
	}
	return raw.Nlink
}

func (ino *Inode) setNlink(n uint32) error {
	raw, err := ino.read()
	if err != nil {
		return err
	}
	raw.Nlink = n
	return ino.write(raw)
}

// Size returns the file size in bytes.
func (ino *Inode) Size() uint32 {
	raw, err := ino.read()
	if err != nil {
		return 0
	}
	return raw.Size
}

func (ino *Inode) setSize(size uint32) error {
	raw, err := ino.read()
	if err != nil {
		return err
	}
	raw.Size = size
	return ino.write(raw)
}

// direct returns the i'th direct block pointer.
func (ino *Inode) direct(i uint32) uint32 {
	raw, err := ino.read()
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(raw.Payload[i*4:])
}

func (ino *Inode) setDirect(i, blockno uint32) error {
	raw, err := ino.read()
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(raw.Payload[i*4:], blockno)
	return ino.write(raw)
}

// indirect returns the inode's single-indirect block number.
func (ino *Inode) indirect() uint32 {
	raw, err := ino.read()
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(raw.Payload[indirectOff:])
}

func (ino *Inode) setIndirect(blockno uint32) error {
	raw, err := ino.read()
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(raw.Payload[indirectOff:], blockno)
	return ino.write(raw)
}

// indirect2 returns the inode's double-indirect block number.
func (ino *Inode) indirect2() uint32 {
	raw, err := ino.read()
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(raw.Payload[indirect2Off:])
}

func (ino *Inode) setIndirect2(blockno uint32) error {
	raw, err := ino.read()
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(raw.Payload[indirect2Off:], blockno)
	return ino.write(raw)
}

// initRegular reinitializes the inode record as a fresh regular file.
func (ino *Inode) initRegular(mode uint16) error {
	return ino.write(rawInode{Type: uint16(FtRegular), Mode: mode, Nlink: 1, Size: 0})
}

// initDirectory reinitializes the inode record as a fresh, empty
// directory. The caller is responsible for growing it and populating
// entries via the directory store.
func (ino *Inode) initDirectory(mode uint16) error {
	return ino.write(rawInode{Type: uint16(FtDirectory), Mode: mode, Nlink: 1, Size: 0})
}

// initSymlink reinitializes the inode record as a symlink holding text.
func (ino *Inode) initSymlink(mode uint16, text string) error {
	if len(text) > MaxSymlinkLen {
		return ErrSymlinkTooLong
	}
	raw := rawInode{Type: uint16(FtSymlink), Mode: mode, Nlink: 1, Size: uint32(len(text))}
	copy(raw.Payload[:], text)
	return ino.write(raw)
}

// free reinitializes the slot as free (nlink == 0), clearing all fields.
func (ino *Inode) free() error {
	return ino.write(rawInode{})
}

// linkText returns the raw inline link text of a symlink inode.
func (ino *Inode) linkText() (string, error) {
	raw, err := ino.read()
	if err != nil {
		return "", err
	}
	if FileType(raw.Type) != FtSymlink {
		return "", fmt.Errorf("%w: inode %d is not a symlink", ErrInvalidArgument, ino.num)
	}
	if raw.Size > uint32(len(raw.Payload)) {
		return "", fmt.Errorf("%w: symlink %d size exceeds inline buffer", ErrCorrupt, ino.num)
	}
	return string(raw.Payload[:raw.Size]), nil
}
