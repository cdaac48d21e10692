package cache

// Rough per-entry bookkeeping overhead for Go maps: bucket slot, hash,
// string header.
const mapEntryOverhead = 48

// EstimateStringSetBytes approximates the in-memory footprint of a
// reference-key set before it is admitted to a cache.
func EstimateStringSetBytes(set map[string]struct{}) int64 {
	var total int64
	for k := range set {
		total += int64(len(k)) + mapEntryOverhead
	}
	return total
}

// EstimateStringKeyedBytes approximates the footprint of a string-keyed map
// whose values have negligible width relative to the keys.
func EstimateStringKeyedBytes[V any](m map[string]V) int64 {
	var total int64
	for k := range m {
		total += int64(len(k)) + mapEntryOverhead
	}
	return total
}

// EstimateCountMapBytes approximates the footprint of a field-value-count map.
func EstimateCountMapBytes(counts map[string]int64) int64 {
	var total int64
	for k := range counts {
		total += int64(len(k)) + 8 + mapEntryOverhead
	}
	return total
}
