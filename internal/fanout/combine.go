package fanout

import "sort"

// Stock combiners for the reporting tools. All are commutative/associative
// reductions: the completion order of endpoint results never affects the
// merged output, and every one is defined over the empty list.

// SumByKey merges count maps by summing values per key. Duplicate keys
// across endpoints are summed, not deduplicated: the counter model assumes
// disjoint sources per endpoint.
func SumByKey(parts []map[string]int64) map[string]int64 {
	merged := make(map[string]int64)
	for _, part := range parts {
		for key, count := range part {
			merged[key] += count
		}
	}
	return merged
}

// Union merges string sets, returning the sorted distinct members.
func Union(parts [][]string) []string {
	seen := make(map[string]bool)
	for _, part := range parts {
		for _, item := range part {
			seen[item] = true
		}
	}
	return sorted(seen)
}

// Intersection returns the sorted members present in every part. The
// intersection over zero parts is empty.
func Intersection(parts [][]string) []string {
	if len(parts) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, part := range parts {
		distinct := make(map[string]bool, len(part))
		for _, item := range part {
			distinct[item] = true
		}
		for item := range distinct {
			counts[item]++
		}
	}
	members := make(map[string]bool)
	for item, n := range counts {
		if n == len(parts) {
			members[item] = true
		}
	}
	return sorted(members)
}

// All reports whether every result is true. Vacuously true for the empty
// list; callers distinguishing "no answers" from "all valid" consult the
// failure list.
func All(parts []bool) bool {
	for _, ok := range parts {
		if !ok {
			return false
		}
	}
	return true
}

// Any reports whether at least one result is true.
func Any(parts []bool) bool {
	for _, ok := range parts {
		if ok {
			return true
		}
	}
	return false
}

// Collect is the identity combiner: it hands back the successful results for
// callers that render per-endpoint output themselves.
func Collect[T any](parts []T) []T {
	return parts
}

func sorted(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for item := range set {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
