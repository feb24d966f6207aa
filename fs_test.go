// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package blockimg_test

import (
	"io"
	"io/fs"
	"testing"

	blockimg "github.com/blockimg/ospfs"
	"github.com/blockimg/ospfs/internal/testutil"
	"github.com/blockimg/ospfs/ospfs"
	"github.com/stretchr/testify/require"
)

func TestFilesystem(t *testing.T) {
	img, err := ospfs.Format(4096, 128)
	require.NoError(t, err)

	root, err := img.Inode(ospfs.RootIno)
	require.NoError(t, err)

	sub, err := img.Mkdir(root, "sub", 0o755)
	require.NoError(t, err)

	f, err := img.Create(sub, "greeting.txt", 0o644)
	require.NoError(t, err)
	_, err = img.WriteAt(f, []byte("hello from ospfs"), 0)
	require.NoError(t, err)

	_, err = img.Symlink(root, "link", "sub/greeting.txt", 0o777)
	require.NoError(t, err)

	fsys := blockimg.Open(img)

	t.Run("Open", func(t *testing.T) {
		file, err := fsys.Open("sub/greeting.txt")
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, file.Close()) })

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, "hello from ospfs", string(data))
	})

	t.Run("ReadDir", func(t *testing.T) {
		entries, err := fsys.ReadDir("sub")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "greeting.txt", entries[0].Name())
		require.False(t, entries[0].IsDir())
	})

	t.Run("Stat", func(t *testing.T) {
		info, err := fsys.Stat("sub")
		require.NoError(t, err)
		require.True(t, info.IsDir())
	})

	t.Run("ReadLinkFollowsTheSymlinkText", func(t *testing.T) {
		target, err := fsys.ReadLink("link")
		require.NoError(t, err)
		require.Equal(t, "sub/greeting.txt", target)
	})

	t.Run("OpenFollowsASymlinkTransparently", func(t *testing.T) {
		file, err := fsys.Open("link")
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, file.Close()) })

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, "hello from ospfs", string(data))
	})

	t.Run("WalkDirVisitsEveryEntry", func(t *testing.T) {
		var names []string
		err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
			require.NoError(t, err)
			names = append(names, path)
			return nil
		})
		require.NoError(t, err)
		require.Contains(t, names, "sub")
		require.Contains(t, names, "sub/greeting.txt")
	})
}

func TestHashFSIsStableAcrossACreateUnlinkCycle(t *testing.T) {
	img, err := ospfs.Format(4096, 128)
	require.NoError(t, err)

	root, err := img.Inode(ospfs.RootIno)
	require.NoError(t, err)

	f, err := img.Create(root, "keep.txt", 0o644)
	require.NoError(t, err)
	_, err = img.WriteAt(f, []byte("stays forever"), 0)
	require.NoError(t, err)

	fsys := blockimg.Open(img)
	before, err := testutil.HashFS(fsys)
	require.NoError(t, err)

	scratch, err := img.Create(root, "scratch.txt", 0o644)
	require.NoError(t, err)
	_, err = img.WriteAt(scratch, []byte("temporary"), 0)
	require.NoError(t, err)
	require.NoError(t, img.Unlink(root, "scratch.txt"))

	after, err := testutil.HashFS(fsys)
	require.NoError(t, err)

	require.Equal(t, before, after)
}
