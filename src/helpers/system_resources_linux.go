//go:build linux

package helpers

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// cgroup v2 limit file; "max" means unlimited.
var cgroupMemoryMax = "/sys/fs/cgroup/memory.max"

// GetAvailableMemoryMB returns the container memory limit when one is set,
// otherwise the physical memory from /proc/meminfo. 0 when neither is readable.
func GetAvailableMemoryMB() int {
	physical := meminfoTotalMB("/proc/meminfo")
	if limit := cgroupLimitMB(cgroupMemoryMax); limit > 0 && (physical == 0 || limit < physical) {
		return limit
	}
	return physical
}

func cgroupLimitMB(path string) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "max" {
		return 0
	}
	bytes, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return int(bytes >> 20)
}

func meminfoTotalMB(path string) int {
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			kb, err := strconv.Atoi(fields[1])
			if err == nil {
				return kb / 1024
			}
		}
	}
	return 0
}
