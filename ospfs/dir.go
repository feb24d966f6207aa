// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are ports of directory-walking logic from the
 * CS111 OSPFS teaching filesystem (original_source/ospfsmod.c).
 */

package ospfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// nameFieldLen is the size, in bytes, of the name field within one
// directory entry record.
const nameFieldLen = DirentSize - 4

func init() {
	if 4+nameFieldLen != DirentSize {
		panic("ospfs: dirent layout does not match DirentSize")
	}
}

// rawDirent is the fixed DirentSize-byte on-disk directory entry.
// Ino == 0 marks the slot free.
type rawDirent struct {
	Ino  uint32
	Name [nameFieldLen]byte
}

// DirEntry is a decoded directory entry returned by lookups and
// directory iteration.
type DirEntry struct {
	Name string
	Ino  uint32
	Type FileType
}

func entryCount(dir *Inode) uint32 {
	return dir.Size() / DirentSize
}

func readDirent(dir *Inode, slot uint32) (rawDirent, error) {
	var raw rawDirent
	blockIdx := (slot * DirentSize) / BlockSize
	blockOff := (slot * DirentSize) % BlockSize

	blockno, err := dir.blockOf(blockIdx)
	if err != nil {
		return raw, err
	}
	b, err := dir.img.block(blockno)
	if err != nil {
		return raw, err
	}

	if err := binary.Read(bytesReader(b[blockOff:blockOff+DirentSize]), binary.LittleEndian, &raw); err != nil {
		return raw, fmt.Errorf("failed to read dirent: %w", err)
	}
	return raw, nil
}

func writeDirent(dir *Inode, slot uint32, raw rawDirent) error {
	blockIdx := (slot * DirentSize) / BlockSize
	blockOff := (slot * DirentSize) % BlockSize

	blockno, err := dir.blockOf(blockIdx)
	if err != nil {
		return err
	}
	b, err := dir.img.block(blockno)
	if err != nil {
		return err
	}

	if err := binary.Write(bytesWriter(b[blockOff:blockOff+DirentSize]), binary.LittleEndian, &raw); err != nil {
		return fmt.Errorf("failed to write dirent: %w", err)
	}
	return nil
}

func nameBytes(name string) ([nameFieldLen]byte, error) {
	var buf [nameFieldLen]byte
	if len(name) > MaxNameLen {
		return buf, ErrNameTooLong
	}
	copy(buf[:], name)
	return buf, nil
}

func trimName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// dirFind does a linear scan of dir's entries for name, returning the
// matching entry and its slot index. Matching requires Ino != 0 and an
// exact byte match of name.
func dirFind(dir *Inode, name string) (rawDirent, uint32, bool, error) {
	n := entryCount(dir)
	for slot := uint32(0); slot < n; slot++ {
		raw, err := readDirent(dir, slot)
		if err != nil {
			return rawDirent{}, 0, false, err
		}
		if raw.Ino != 0 && trimName(raw.Name[:]) == name {
			return raw, slot, true, nil
		}
	}
	return rawDirent{}, 0, false, nil
}

// dirCreateBlank returns the slot index of a free directory entry (Ino
// == 0), reusing an existing free slot if one exists, or growing dir
// by one entry stride otherwise.
func dirCreateBlank(dir *Inode) (uint32, error) {
	n := entryCount(dir)
	for slot := uint32(0); slot < n; slot++ {
		raw, err := readDirent(dir, slot)
		if err != nil {
			return 0, err
		}
		if raw.Ino == 0 {
			return slot, nil
		}
	}

	if err := dir.img.changeSizeLocked(dir, dir.Size()+DirentSize); err != nil {
		return 0, err
	}
	return n, nil
}

// dirWriteEntry fills slot with a binding of name to ino.
func dirWriteEntry(dir *Inode, slot uint32, ino uint32, name string) error {
	nameBuf, err := nameBytes(name)
	if err != nil {
		return err
	}
	return writeDirent(dir, slot, rawDirent{Ino: ino, Name: nameBuf})
}

// dirClearEntry marks slot free. Entries are never physically deleted
// from the directory file; the slot is preserved for reuse.
func dirClearEntry(dir *Inode, slot uint32) error {
	return writeDirent(dir, slot, rawDirent{})
}

// ReadDir lists dir's entries, synthesizing "." and ".." at logical
// positions 0 and 1. parentIno is the inode number ".." should resolve
// to (the caller's directory stack knows this; the directory file
// itself never stores it).
func (img *Image) ReadDir(dir *Inode, parentIno uint32) ([]DirEntry, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()

	if !dir.IsDir() {
		return nil, ErrNotDir
	}

	entries := []DirEntry{
		{Name: ".", Ino: dir.Num(), Type: FtDirectory},
		{Name: "..", Ino: parentIno, Type: FtDirectory},
	}

	n := entryCount(dir)
	for slot := uint32(0); slot < n; slot++ {
		raw, err := readDirent(dir, slot)
		if err != nil {
			return nil, err
		}
		if raw.Ino == 0 {
			continue
		}

		child, err := img.Inode(raw.Ino)
		if err != nil {
			return nil, err
		}

		entries = append(entries, DirEntry{
			Name: trimName(raw.Name[:]),
			Ino:  raw.Ino,
			Type: child.Type(),
		})
	}

	return entries, nil
}
