/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package resources

import (
	_ "embed"
)

var (
	// ExampleConfig documents every server setting with its default.
	//go:embed zeus.example.yaml
	ExampleConfig []byte
)
