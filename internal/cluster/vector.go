package cluster

import "math"

// cosine returns the cosine similarity of two vectors, 0 when either is
// empty, mismatched, or zero-length in magnitude.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// mean averages the given vectors element-wise, skipping empties. Returns
// nil when nothing usable was passed.
func mean(vectors [][]float32) []float32 {
	var sum []float64
	count := 0
	for _, v := range vectors {
		if len(v) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(v))
		}
		if len(v) != len(sum) {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		count++
	}
	if count == 0 {
		return nil
	}
	out := make([]float32, len(sum))
	for i, x := range sum {
		out[i] = float32(x / float64(count))
	}
	return out
}

// jaccard computes |A∩B| / |A∪B| over two string sets. Returns 0 when
// either is empty.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[s] = true
	}
	union := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		union[s] = true
	}
	shared := 0
	seenB := make(map[string]bool, len(b))
	for _, s := range b {
		if seenB[s] {
			continue
		}
		seenB[s] = true
		if setA[s] {
			shared++
		}
		union[s] = true
	}
	if len(union) == 0 {
		return 0
	}
	return float64(shared) / float64(len(union))
}
