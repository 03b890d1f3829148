package helpers

// Memory policy for the process soft limit.
const (
	memoryLimitShare = 0.75
	minMemoryLimitMB = 512
)

// GetRecommendedMemoryLimit returns a soft heap limit in MB: 75% of the
// memory available to the process, and at least 512MB when the host has that
// much. ok is false when the available memory could not be determined.
func GetRecommendedMemoryLimit() (limitMB int, ok bool) {
	totalMB := GetAvailableMemoryMB()
	if totalMB <= 0 {
		return minMemoryLimitMB, false
	}

	limit := int(float64(totalMB) * memoryLimitShare)
	if limit < minMemoryLimitMB {
		if totalMB < minMemoryLimitMB {
			return totalMB, true
		}
		return minMemoryLimitMB, true
	}
	return limit, true
}
