// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package client

import (
	"fmt"

	"github.com/pbinitiative/zenbpm-embedded/pkg/bpmn"
)

func newValidationError(format string, a ...any) error {
	return &bpmn.ValidationError{Msg: fmt.Sprintf(format, a...)}
}
