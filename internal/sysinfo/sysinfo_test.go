// SPDX-License-Identifier: MIT

package sysinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAutotuneFormulas(t *testing.T) {
	tests := []struct {
		name         string
		limits       Limits
		wantFast     int
		wantHeadless int
	}{
		{"4cpu 8gb", Limits{CPUs: 4, MemoryGB: 8}, 12, 4},
		{"fast capped at 30", Limits{CPUs: 16, MemoryGB: 64}, 30, 10},
		{"headless memory bound", Limits{CPUs: 8, MemoryGB: 0.5}, 24, 3},
		{"floor of one", Limits{CPUs: 1, MemoryGB: 0.05}, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Autotune(tt.limits)
			assert.Equal(t, tt.wantFast, got.FastSlots)
			assert.Equal(t, tt.wantHeadless, got.HeadlessSlots)
		})
	}
}

func TestDetectNeverZero(t *testing.T) {
	l := Detect()
	assert.GreaterOrEqual(t, l.CPUs, 1)
	assert.Greater(t, l.MemoryGB, 0.0)
}
