// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ospfs_test

import (
	"testing"

	"github.com/blockimg/ospfs/ospfs"
	"github.com/stretchr/testify/require"
)

func newTestImage(t *testing.T) (*ospfs.Image, *ospfs.Inode) {
	t.Helper()
	img, err := ospfs.Format(4096, 128)
	require.NoError(t, err)

	root, err := img.Inode(ospfs.RootIno)
	require.NoError(t, err)

	return img, root
}

func TestCreate(t *testing.T) {
	img, root := newTestImage(t)

	f, err := img.Create(root, "hello.txt", 0o644)
	require.NoError(t, err)
	require.True(t, f.IsRegular())
	require.Equal(t, uint32(1), f.Nlink())
	require.Equal(t, uint32(0), f.Size())

	t.Run("RejectsDuplicateNames", func(t *testing.T) {
		_, err := img.Create(root, "hello.txt", 0o644)
		require.ErrorIs(t, err, ospfs.ErrExists)
	})

	t.Run("RejectsNamesThatAreTooLong", func(t *testing.T) {
		long := make([]byte, ospfs.MaxNameLen+1)
		for i := range long {
			long[i] = 'a'
		}
		_, err := img.Create(root, string(long), 0o644)
		require.ErrorIs(t, err, ospfs.ErrNameTooLong)
	})

	t.Run("IsVisibleInReadDir", func(t *testing.T) {
		entries, err := img.ReadDir(root, ospfs.RootIno)
		require.NoError(t, err)

		var found bool
		for _, e := range entries {
			if e.Name == "hello.txt" {
				found = true
				require.Equal(t, f.Num(), e.Ino)
				require.Equal(t, ospfs.FtRegular, e.Type)
			}
		}
		require.True(t, found)
	})

	t.Run("IsResolvedByLookup", func(t *testing.T) {
		entry, err := img.Lookup(root, "hello.txt")
		require.NoError(t, err)
		require.Equal(t, f.Num(), entry.Ino)
	})
}

func TestMkdir(t *testing.T) {
	img, root := newTestImage(t)

	sub, err := img.Mkdir(root, "sub", 0o755)
	require.NoError(t, err)
	require.True(t, sub.IsDir())

	entries, err := img.ReadDir(sub, root.Num())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, ".", entries[0].Name)
	require.Equal(t, sub.Num(), entries[0].Ino)
	require.Equal(t, "..", entries[1].Name)
	require.Equal(t, root.Num(), entries[1].Ino)
}

func TestLink(t *testing.T) {
	img, root := newTestImage(t)

	f, err := img.Create(root, "original", 0o644)
	require.NoError(t, err)

	require.NoError(t, img.Link(root, "alias", f))
	require.Equal(t, uint32(2), f.Nlink())

	entry, err := img.Lookup(root, "alias")
	require.NoError(t, err)
	require.Equal(t, f.Num(), entry.Ino)

	t.Run("RejectsHardLinksToDirectories", func(t *testing.T) {
		dir, err := img.Mkdir(root, "d", 0o755)
		require.NoError(t, err)
		err = img.Link(root, "d2", dir)
		require.ErrorIs(t, err, ospfs.ErrInvalidArgument)
	})
}

func TestUnlink(t *testing.T) {
	t.Run("ReclaimsAnUnreferencedFilesBlocks", func(t *testing.T) {
		img, root := newTestImage(t)

		f, err := img.Create(root, "f", 0o644)
		require.NoError(t, err)
		_, err = img.WriteAt(f, []byte("hello, world"), 0)
		require.NoError(t, err)
		require.NotZero(t, f.Size())

		require.NoError(t, img.Unlink(root, "f"))

		_, err = img.Lookup(root, "f")
		require.ErrorIs(t, err, ospfs.ErrNotExist)

		// The inode slot should now read back as free.
		again, err := img.Inode(f.Num())
		require.NoError(t, err)
		require.True(t, again.IsFree())
	})

	t.Run("KeepsAHardLinkedFileAliveUntilTheLastNameIsGone", func(t *testing.T) {
		img, root := newTestImage(t)

		f, err := img.Create(root, "f", 0o644)
		require.NoError(t, err)
		require.NoError(t, img.Link(root, "g", f))

		require.NoError(t, img.Unlink(root, "f"))
		require.False(t, f.IsFree())
		require.Equal(t, uint32(1), f.Nlink())

		require.NoError(t, img.Unlink(root, "g"))
		require.True(t, f.IsFree())
	})

	t.Run("ReportsNotExistForAMissingName", func(t *testing.T) {
		img, root := newTestImage(t)
		err := img.Unlink(root, "nope")
		require.ErrorIs(t, err, ospfs.ErrNotExist)
	})

	t.Run("RejectsUnlinkingADirectory", func(t *testing.T) {
		img, root := newTestImage(t)

		sub, err := img.Mkdir(root, "sub", 0o755)
		require.NoError(t, err)

		err = img.Unlink(root, "sub")
		require.ErrorIs(t, err, ospfs.ErrPermission)

		// The directory and its entry are untouched.
		entry, err := img.Lookup(root, "sub")
		require.NoError(t, err)
		require.Equal(t, sub.Num(), entry.Ino)
	})
}

func TestSymlink(t *testing.T) {
	img, root := newTestImage(t)

	link, err := img.Symlink(root, "link", "/etc/passwd", 0o777)
	require.NoError(t, err)
	require.True(t, link.IsSymlink())

	text, err := img.Readlink(link)
	require.NoError(t, err)
	require.Equal(t, "/etc/passwd", text)

	t.Run("RejectsTargetsThatAreTooLong", func(t *testing.T) {
		long := make([]byte, ospfs.MaxSymlinkLen+1)
		for i := range long {
			long[i] = 'x'
		}
		_, err := img.Symlink(root, "toolong", string(long), 0o777)
		require.ErrorIs(t, err, ospfs.ErrSymlinkTooLong)
	})

	t.Run("ConditionalTargetDependsOnTheResolvingUid", func(t *testing.T) {
		cond, err := img.Symlink(root, "cond", "root?/root-only:/everyone-else", 0o777)
		require.NoError(t, err)

		asRoot, err := img.FollowLink(cond, 0)
		require.NoError(t, err)
		require.Equal(t, "/root-only", asRoot)

		asUser, err := img.FollowLink(cond, 1000)
		require.NoError(t, err)
		require.Equal(t, "/everyone-else", asUser)
	})
}

func TestChmodAndTruncate(t *testing.T) {
	img, root := newTestImage(t)

	f, err := img.Create(root, "f", 0o644)
	require.NoError(t, err)

	require.NoError(t, img.Chmod(f, 0o600))
	require.Equal(t, uint16(0o600), f.Mode())

	require.NoError(t, img.Truncate(f, 4*ospfs.BlockSize))
	require.Equal(t, uint32(4*ospfs.BlockSize), f.Size())

	t.Run("RejectsResizingADirectory", func(t *testing.T) {
		err := img.Truncate(root, ospfs.BlockSize)
		require.ErrorIs(t, err, ospfs.ErrPermission)
	})
}

func TestReplayJournal(t *testing.T) {
	img, _ := newTestImage(t)
	require.ErrorIs(t, img.ReplayJournal(), ospfs.ErrJournalNotImplemented)
}
