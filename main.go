// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/geoproof/geoproof/cmd"
)

var Version = "development"

func main() {
	cmd.Execute(Version)
}
