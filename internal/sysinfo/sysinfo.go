// SPDX-License-Identifier: MIT

// Package sysinfo detects effective CPU and memory limits and derives the
// concurrency parameters used by the pool. Detection order: cgroup v2,
// cgroup v1, OS defaults.
package sysinfo

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

const (
	maxFastSlots     = 30
	maxHeadlessSlots = 10
	// Approximate resident cost of one headless browser context, in GiB.
	headlessMemPerSlotGB = 0.15
)

// Limits holds the detected resource ceilings.
type Limits struct {
	CPUs     int
	MemoryGB float64
}

// Tuning holds the derived concurrency parameters.
type Tuning struct {
	FastSlots     int
	HeadlessSlots int
}

// Detect returns the effective limits for this process.
func Detect() Limits {
	cpus := float64(runtime.NumCPU())
	if q, ok := cgroupCPUQuota(); ok && q < cpus {
		cpus = q
	}
	memGB := cgroupMemoryGB()
	if memGB <= 0 {
		memGB = 2 // conservative default when no limit is readable
	}
	n := int(cpus)
	if n < 1 {
		n = 1
	}
	return Limits{CPUs: n, MemoryGB: memGB}
}

// Autotune computes pool sizes from the detected limits.
func Autotune(l Limits) Tuning {
	fast := l.CPUs * 3
	if fast > maxFastSlots {
		fast = maxFastSlots
	}
	if fast < 1 {
		fast = 1
	}

	headless := l.CPUs
	if byMem := int(l.MemoryGB / headlessMemPerSlotGB); byMem < headless {
		headless = byMem
	}
	if headless > maxHeadlessSlots {
		headless = maxHeadlessSlots
	}
	if headless < 1 {
		headless = 1
	}
	return Tuning{FastSlots: fast, HeadlessSlots: headless}
}

func cgroupCPUQuota() (float64, bool) {
	// cgroup v2: "max 100000" or "200000 100000"
	if data, err := os.ReadFile("/sys/fs/cgroup/cpu.max"); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) == 2 && fields[0] != "max" {
			quota, err1 := strconv.ParseFloat(fields[0], 64)
			period, err2 := strconv.ParseFloat(fields[1], 64)
			if err1 == nil && err2 == nil && period > 0 {
				return quota / period, true
			}
		}
		return 0, false
	}
	// cgroup v1
	quota := readInt("/sys/fs/cgroup/cpu/cpu.cfs_quota_us")
	period := readInt("/sys/fs/cgroup/cpu/cpu.cfs_period_us")
	if quota > 0 && period > 0 {
		return float64(quota) / float64(period), true
	}
	return 0, false
}

func cgroupMemoryGB() float64 {
	// cgroup v2
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		s := strings.TrimSpace(string(data))
		if s != "max" {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				return float64(v) / (1 << 30)
			}
		}
		return hostMemoryGB()
	}
	// cgroup v1; the unset value is a huge sentinel
	if v := readInt("/sys/fs/cgroup/memory/memory.limit_in_bytes"); v > 0 && v < (1<<50) {
		return float64(v) / (1 << 30)
	}
	return hostMemoryGB()
}

func hostMemoryGB() float64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
					return float64(kb) / (1 << 20)
				}
			}
		}
	}
	return 0
}

func readInt(path string) int64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return -1
	}
	return v
}
