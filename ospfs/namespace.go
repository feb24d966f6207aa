// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are ports of the directory-mutation logic
 * from the CS111 OSPFS teaching filesystem
 * (original_source/ospfsmod.c): ospfs_dir_link, ospfs_notify_change.
 */

package ospfs

import "fmt"

// Lookup resolves name within dir, returning the bound directory
// entry. It does not follow symlinks; that's FollowLink's job.
func (img *Image) Lookup(dir *Inode, name string) (DirEntry, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()

	if !dir.IsDir() {
		return DirEntry{}, ErrNotDir
	}

	raw, _, ok, err := dirFind(dir, name)
	if err != nil {
		return DirEntry{}, err
	}
	if !ok {
		return DirEntry{}, ErrNotExist
	}

	child, err := img.Inode(raw.Ino)
	if err != nil {
		return DirEntry{}, err
	}

	return DirEntry{Name: name, Ino: raw.Ino, Type: child.Type()}, nil
}

// allocateInode scans the inode table for the first free slot
// (nlink == 0), starting at RootIno+1 since inode 0 is reserved and
// RootIno is permanently occupied by the root directory.
func (img *Image) allocateInode() (*Inode, error) {
	for n := uint32(RootIno + 1); n < img.sb.NInodes; n++ {
		ino, err := img.Inode(n)
		if err != nil {
			return nil, err
		}
		if ino.IsFree() {
			return ino, nil
		}
	}
	return nil, fmt.Errorf("%w: inode table exhausted", ErrNoSpace)
}

// Create makes a new, empty regular file named name in dir.
func (img *Image) Create(dir *Inode, name string, mode uint16) (*Inode, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if !dir.IsDir() {
		return nil, ErrNotDir
	}
	if len(name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	if _, _, ok, err := dirFind(dir, name); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrExists
	}

	slot, err := dirCreateBlank(dir)
	if err != nil {
		return nil, err
	}

	ino, err := img.allocateInode()
	if err != nil {
		return nil, err
	}
	if err := ino.initRegular(mode); err != nil {
		return nil, err
	}

	if err := dirWriteEntry(dir, slot, ino.Num(), name); err != nil {
		return nil, err
	}

	return ino, nil
}

// Mkdir makes a new, empty directory named name in dir.
func (img *Image) Mkdir(dir *Inode, name string, mode uint16) (*Inode, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if !dir.IsDir() {
		return nil, ErrNotDir
	}
	if len(name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	if _, _, ok, err := dirFind(dir, name); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrExists
	}

	slot, err := dirCreateBlank(dir)
	if err != nil {
		return nil, err
	}

	ino, err := img.allocateInode()
	if err != nil {
		return nil, err
	}
	if err := ino.initDirectory(mode); err != nil {
		return nil, err
	}

	if err := dirWriteEntry(dir, slot, ino.Num(), name); err != nil {
		return nil, err
	}

	return ino, nil
}

// Link binds newName in dir to the same inode as src, incrementing
// src's link count. Hard links to directories are refused.
func (img *Image) Link(dir *Inode, newName string, src *Inode) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	if !dir.IsDir() {
		return ErrNotDir
	}
	if src.IsDir() {
		return fmt.Errorf("%w: cannot hard link a directory", ErrInvalidArgument)
	}
	if len(newName) > MaxNameLen {
		return ErrNameTooLong
	}
	if _, _, ok, err := dirFind(dir, newName); err != nil {
		return err
	} else if ok {
		return ErrExists
	}

	slot, err := dirCreateBlank(dir)
	if err != nil {
		return err
	}

	if err := dirWriteEntry(dir, slot, src.Num(), newName); err != nil {
		return err
	}

	return src.setNlink(src.Nlink() + 1)
}

// Symlink creates a symbolic link named name in dir, holding target
// as its link text (interpreted later by FollowLink).
func (img *Image) Symlink(dir *Inode, name, target string, mode uint16) (*Inode, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if !dir.IsDir() {
		return nil, ErrNotDir
	}
	if len(name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	if len(target) > MaxSymlinkLen {
		return nil, ErrSymlinkTooLong
	}
	if _, _, ok, err := dirFind(dir, name); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrExists
	}

	slot, err := dirCreateBlank(dir)
	if err != nil {
		return nil, err
	}

	ino, err := img.allocateInode()
	if err != nil {
		return nil, err
	}
	if err := ino.initSymlink(mode, target); err != nil {
		return nil, err
	}

	if err := dirWriteEntry(dir, slot, ino.Num(), name); err != nil {
		return nil, err
	}

	return ino, nil
}

// Unlink removes name from dir, decrementing the target inode's link
// count. Per this implementation's resolution of the open question in
// the design notes, once nlink reaches 0 on a regular file, its blocks
// are reclaimed immediately (the directory-entry slot itself is only
// marked free, never physically removed, so it can be reused by a
// later create/link/symlink).
//
// Directories cannot be unlinked through this call: like Link,
// directory targets are rejected, since a directory's own data block
// is never reclaimed by this path and nothing else tears down its
// entries.
func (img *Image) Unlink(dir *Inode, name string) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	if !dir.IsDir() {
		return ErrNotDir
	}

	raw, slot, ok, err := dirFind(dir, name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotExist
	}

	target, err := img.Inode(raw.Ino)
	if err != nil {
		return err
	}
	if target.IsDir() {
		return fmt.Errorf("%w: cannot unlink a directory", ErrPermission)
	}

	if err := dirClearEntry(dir, slot); err != nil {
		return err
	}

	nlink := target.Nlink() - 1
	if err := target.setNlink(nlink); err != nil {
		return err
	}
	if nlink > 0 {
		return nil
	}

	if target.IsRegular() {
		if err := img.changeSizeLocked(target, 0); err != nil {
			return err
		}
	}
	return target.free()
}

// Chmod updates mode bits. notify_change with a size attribute is
// Truncate; attempting to resize a directory through either path is
// rejected.
func (img *Image) Chmod(ino *Inode, mode uint16) error {
	img.mu.Lock()
	defer img.mu.Unlock()

	return ino.SetMode(mode)
}

// Truncate changes ino's size, delegating to the size-change engine.
// Resizing a directory is rejected with ErrPermission.
func (img *Image) Truncate(ino *Inode, size uint32) error {
	if ino.IsDir() {
		return ErrPermission
	}
	return img.ChangeSize(ino, size)
}

// ReplayJournal is a stub. The original source's journal-replay hook
// reads into a buffer it never initializes with journal data; no
// journal format is designed here, so this returns
// ErrJournalNotImplemented rather than surfacing uninitialized memory.
func (img *Image) ReplayJournal() error {
	return ErrJournalNotImplemented
}
