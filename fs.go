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

package blockimg

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/blockimg/ospfs/ospfs"
)

var (
	_ fs.FS        = (*Filesystem)(nil)
	_ fs.ReadDirFS = (*Filesystem)(nil)
	_ fs.StatFS    = (*Filesystem)(nil)
	_ ReadLinkFS   = (*Filesystem)(nil)
)

// Filesystem adapts an *ospfs.Image to io/fs, for callers that want to
// walk, read, and stat an image using the standard filesystem
// interfaces rather than ospfs's inode-oriented API directly.
//
// It is not a real host-VFS binding (no mount, no FUSE loop); it's a
// read path over an in-memory image, useful for tests and for tools
// that only need fs.FS-shaped access.
type Filesystem struct {
	img *ospfs.Image
	uid uint32
}

// Open wraps img for io/fs access, resolving conditional symlinks as
// uid 0 (root).
func Open(img *ospfs.Image) *Filesystem {
	return &Filesystem{img: img}
}

// AsUid returns a Filesystem over the same image that resolves
// conditional symlinks as the given uid instead.
func (fsys *Filesystem) AsUid(uid uint32) *Filesystem {
	return &Filesystem{img: fsys.img, uid: uid}
}

func (fsys *Filesystem) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	ino, _, err := fsys.resolve(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	return &openFile{fsys: fsys, name: filepath.Base(name), ino: ino}, nil
}

func (fsys *Filesystem) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	ino, parentIno, err := fsys.resolve(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	if !ino.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: errors.New("not a directory")}
	}

	entries, err := fsys.img.ReadDir(ino, parentIno)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}

	var out []fs.DirEntry
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		child, err := fsys.img.Inode(e.Ino)
		if err != nil {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
		}
		out = append(out, &dirEntry{name: e.Name, ino: child})
	}

	return out, nil
}

func (fsys *Filesystem) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}

	ino, _, err := fsys.resolve(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}

	return &fileInfo{name: filepath.Base(name), ino: ino}, nil
}

// ReadLink returns the conditional-resolved target of the named
// symbolic link, following this Filesystem's uid.
func (fsys *Filesystem) ReadLink(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrInvalid}
	}

	ino, _, err := fsys.resolve(name, true)
	if err != nil {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: err}
	}

	text, err := fsys.img.FollowLink(ino, fsys.uid)
	if err != nil {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: err}
	}
	return text, nil
}

// StatLink describes the named file without following it if it is
// itself a symlink.
func (fsys *Filesystem) StatLink(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: fs.ErrInvalid}
	}

	ino, _, err := fsys.resolve(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}

	return &fileInfo{name: filepath.Base(name), ino: ino}, nil
}

// resolve walks name's path components from the root directory,
// following symlinks (conditionally resolved for fsys.uid) as it goes
// unless noResolveLastSymlink is set and the symlink is the final
// component. It returns the resolved inode and the inode number of
// its containing directory, used to synthesize "..".
func (fsys *Filesystem) resolve(name string, noResolveLastSymlink bool) (*ospfs.Inode, uint32, error) {
	cur, err := fsys.img.Inode(ospfs.RootIno)
	if err != nil {
		return nil, 0, err
	}
	curParent := uint32(ospfs.RootIno)

	if name == "." {
		return cur, curParent, nil
	}

	components := strings.Split(name, "/")
	for i, comp := range components {
		entry, err := fsys.img.Lookup(cur, comp)
		if err != nil {
			return nil, 0, err
		}

		child, err := fsys.img.Inode(entry.Ino)
		if err != nil {
			return nil, 0, err
		}

		if child.IsSymlink() && !(noResolveLastSymlink && i == len(components)-1) {
			target, err := fsys.img.FollowLink(child, fsys.uid)
			if err != nil {
				return nil, 0, err
			}
			target = filepath.Clean(target)

			var joined string
			if strings.HasPrefix(target, "/") {
				joined = strings.TrimPrefix(target, "/")
			} else {
				joined = filepath.Join(strings.Join(components[:i], "/"), target)
			}

			child, curParent, err = fsys.resolve(joined, noResolveLastSymlink)
			if err != nil {
				return nil, 0, err
			}
		} else {
			curParent = cur.Num()
		}

		cur = child
	}

	return cur, curParent, nil
}

func modeOf(ino *ospfs.Inode) fs.FileMode {
	m := fs.FileMode(ino.Mode() & 0o777)
	switch ino.Type() {
	case ospfs.FtDirectory:
		m |= fs.ModeDir
	case ospfs.FtSymlink:
		m |= fs.ModeSymlink
	}
	return m
}

type fileInfo struct {
	name string
	ino  *ospfs.Inode
}

func (fi *fileInfo) Name() string         { return fi.name }
func (fi *fileInfo) Size() int64          { return int64(fi.ino.Size()) }
func (fi *fileInfo) Mode() fs.FileMode    { return modeOf(fi.ino) }
func (fi *fileInfo) ModTime() time.Time   { return time.Time{} }
func (fi *fileInfo) IsDir() bool          { return fi.ino.IsDir() }
func (fi *fileInfo) Sys() any             { return fi.ino }

type dirEntry struct {
	name string
	ino  *ospfs.Inode
}

func (de *dirEntry) Name() string              { return de.name }
func (de *dirEntry) IsDir() bool               { return de.ino.IsDir() }
func (de *dirEntry) Type() fs.FileMode         { return modeOf(de.ino) }
func (de *dirEntry) Info() (fs.FileInfo, error) { return &fileInfo{name: de.name, ino: de.ino}, nil }

type openFile struct {
	fsys *Filesystem
	name string
	ino  *ospfs.Inode
	pos  int64
}

func (f *openFile) Read(p []byte) (int, error) {
	n, err := f.fsys.img.ReadAt(f.ino, p, f.pos)
	f.pos += int64(n)
	if err == nil && n == 0 && len(p) > 0 {
		err = io.EOF
	}
	return n, err
}

func (f *openFile) Close() error {
	return nil
}

func (f *openFile) Stat() (fs.FileInfo, error) {
	return &fileInfo{name: f.name, ino: f.ino}, nil
}
