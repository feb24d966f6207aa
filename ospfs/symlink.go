// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are ports of the conditional-symlink grammar
 * from the CS111 OSPFS teaching filesystem
 * (original_source/ospfsmod.c, around the "root?" prefix handling).
 */

package ospfs

import "strings"

// conditionalPrefix introduces a symlink whose target depends on the
// resolving caller's uid: "root?<path-if-root>:<path-otherwise>".
const conditionalPrefix = "root?"

// Readlink returns the raw link text stored in a symlink inode,
// unresolved.
func (img *Image) Readlink(ino *Inode) (string, error) {
	img.mu.RLock()
	defer img.mu.RUnlock()

	return ino.linkText()
}

// FollowLink resolves a symlink's text for the given caller uid. If
// the text doesn't start with the "root?" prefix, it's returned
// unchanged. Otherwise the text is "root?<path-if-root>:<path-otherwise>";
// the first segment is returned for uid 0, the second otherwise.
func (img *Image) FollowLink(ino *Inode, uid uint32) (string, error) {
	text, err := img.Readlink(ino)
	if err != nil {
		return "", err
	}
	return followText(text, uid), nil
}

func followText(text string, uid uint32) string {
	if !strings.HasPrefix(text, conditionalPrefix) {
		return text
	}

	rest := text[len(conditionalPrefix):]
	rootPath, otherPath, ok := strings.Cut(rest, ":")
	if !ok || rootPath == "" || otherPath == "" {
		// Malformed conditional text; treat it as a literal, the way an
		// unrecognized prefix would be.
		return text
	}

	if uid == 0 {
		return rootPath
	}
	return otherPath
}
