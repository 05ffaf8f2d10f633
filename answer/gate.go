// Package answer orchestrates a query: embed, retrieve, gate, prompt,
// generate, record.
package answer

// Gate decides whether retrieved distances place a query inside the
// semantic neighbourhood of the corpus. It is the step that keeps
// off-corpus questions away from the paid language-model call.
type Gate struct {
	// Threshold is a cosine distance in [0,2], calibrated for the
	// configured embedding provider.
	Threshold float64
}

// Relevant reports whether the best (smallest) distance is within the
// threshold. No distances means nothing retrievable, hence not relevant.
func (g Gate) Relevant(distances []float64) bool {
	if len(distances) == 0 {
		return false
	}
	best := distances[0]
	for _, d := range distances[1:] {
		if d < best {
			best = d
		}
	}
	return best <= g.Threshold
}
