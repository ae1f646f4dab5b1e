// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package profile

import (
	"os"
	"strings"
)

type ProfileType string

var Current = DEV // dev profile as default

const (
	DEV  ProfileType = "DEV"
	TEST ProfileType = "TEST"
	PROD ProfileType = "PROD"
)

// Parse accepts profile names in any case
func Parse(name string) (ProfileType, bool) {
	switch ProfileType(strings.ToUpper(strings.TrimSpace(name))) {
	case DEV:
		return DEV, true
	case TEST:
		return TEST, true
	case PROD:
		return PROD, true
	}
	return "", false
}

// InitProfile sets Current from the PROFILE variable, an unknown or missing value keeps DEV
func InitProfile() ProfileType {
	if p, ok := Parse(os.Getenv("PROFILE")); ok {
		Current = p
	}
	return Current
}

// ProfilerEnabled tells whether the host mounts the pprof endpoints
func ProfilerEnabled() bool {
	return Current == DEV
}
