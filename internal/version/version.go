/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import "fmt"

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/ottlive/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// Commit is the source revision, also set via ldflags.
var Commit = "dev"

// String formats version and commit for logs and the version command.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
