// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package textutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestASCIIFolding(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"  Spaces   inside  ", "Spaces inside"},
		{"Áéíóú", "Aeiou"},
		{"Ñandú", "Nandu"},
		{"Crème Brûlée", "Creme Brulee"},
		{"", ""},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, ASCIIFolding(tc.input))
		})
	}
}

func TestLowerASCIIFolding(t *testing.T) {
	assert.Equal(t, "sector 14, rohtak", LowerASCIIFolding("  Séctor 14, Rohtak "))
}

func TestFormatInt(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0"},
		{12, "12"},
		{123, "123"},
		{1234, "1,234"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
		{-123, "-123"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatInt(tc.input))
		})
	}
}
