//go:build !linux

package helpers

// GetAvailableMemoryMB is unknown off Linux; callers fall back to a default.
func GetAvailableMemoryMB() int { return 0 }
