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
	"testing"

	"github.com/stretchr/testify/require"
)

// These live in the internal (package ospfs) test file rather than the
// ospfs_test black-box suite because they need to peek at raw index-table
// slots through readIndirEntry and indirect2(), which aren't exported.

func TestShrinkZeroesStaleDoubleIndirectChildSlot(t *testing.T) {
	img, err := Format(400, 8)
	require.NoError(t, err)

	root, err := img.Inode(RootIno)
	require.NoError(t, err)

	f, err := img.Create(root, "f", 0o644)
	require.NoError(t, err)

	grown := NDirect + NIndirect + 3
	require.NoError(t, img.ChangeSize(f, uint32(grown)*BlockSize))

	child, err := img.readIndirEntry(f.indirect2(), 0)
	require.NoError(t, err)
	require.NotZero(t, child)

	// Both slots 1 and 2 of the child table are populated.
	slot1, err := img.readIndirEntry(child, 1)
	require.NoError(t, err)
	require.NotZero(t, slot1)
	slot2, err := img.readIndirEntry(child, 2)
	require.NoError(t, err)
	require.NotZero(t, slot2)

	shrunk := NDirect + NIndirect + 1
	require.NoError(t, img.ChangeSize(f, uint32(shrunk)*BlockSize))

	// The file still has block index NDirect+NIndirect (child slot 0);
	// the child table survives, so slots 1 and 2 must read back as 0,
	// not the stale, now-freed block numbers they used to hold.
	slot1, err = img.readIndirEntry(child, 1)
	require.NoError(t, err)
	require.Zero(t, slot1)
	slot2, err = img.readIndirEntry(child, 2)
	require.NoError(t, err)
	require.Zero(t, slot2)
}

func TestShrinkZeroesStaleDoubleIndirectParentSlotOnChildFree(t *testing.T) {
	img, err := Format(600, 8)
	require.NoError(t, err)

	root, err := img.Inode(RootIno)
	require.NoError(t, err)

	f, err := img.Create(root, "f", 0o644)
	require.NoError(t, err)

	// Grow far enough to allocate a second single-indirect child under
	// the double-indirect root (one block past the first child's last
	// slot).
	grown := NDirect + NIndirect + NIndirect + 1
	require.NoError(t, img.ChangeSize(f, uint32(grown)*BlockSize))

	secondChild, err := img.readIndirEntry(f.indirect2(), 1)
	require.NoError(t, err)
	require.NotZero(t, secondChild)

	// Shrink back by exactly one block: this frees the second child
	// entirely (it held only that one block).
	shrunk := NDirect + NIndirect + NIndirect
	require.NoError(t, img.ChangeSize(f, uint32(shrunk)*BlockSize))

	secondChild, err = img.readIndirEntry(f.indirect2(), 1)
	require.NoError(t, err)
	require.Zero(t, secondChild)
}
