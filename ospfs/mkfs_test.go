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

func TestFormat(t *testing.T) {
	t.Run("ProducesAnEmptyRoot", func(t *testing.T) {
		img, err := ospfs.Format(2000, 64)
		require.NoError(t, err)

		sb := img.SuperBlock()
		require.Equal(t, uint32(ospfs.SuperBlockMagic), sb.Magic)
		require.Equal(t, uint32(2000), sb.NBlocks)
		require.Equal(t, uint32(64), sb.NInodes)

		root, err := img.Inode(ospfs.RootIno)
		require.NoError(t, err)
		require.True(t, root.IsDir())
		require.Equal(t, uint32(0), root.Size())

		entries, err := img.ReadDir(root, ospfs.RootIno)
		require.NoError(t, err)
		require.Len(t, entries, 2) // just "." and ".."
	})

	t.Run("RejectsAnImageTooSmallForItsInodeTable", func(t *testing.T) {
		_, err := ospfs.Format(4, 64)
		require.ErrorIs(t, err, ospfs.ErrNoSpace)
	})

	t.Run("RejectsZeroInodes", func(t *testing.T) {
		_, err := ospfs.Format(2000, 0)
		require.ErrorIs(t, err, ospfs.ErrInvalidArgument)
	})

	t.Run("OpenRoundTripsAFormattedImage", func(t *testing.T) {
		img, err := ospfs.Format(2000, 64)
		require.NoError(t, err)

		reopened, err := ospfs.Open(img.Bytes())
		require.NoError(t, err)
		require.Equal(t, img.SuperBlock(), reopened.SuperBlock())

		root, err := reopened.Inode(ospfs.RootIno)
		require.NoError(t, err)
		require.True(t, root.IsDir())
	})
}
