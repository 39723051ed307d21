package domain

// ChunkPlan maps dimension names to requested chunk lengths.
type ChunkPlan map[string]int

// For returns the chunk shape for v in ds. Each requested length is clamped to
// the dimension's actual length; dimensions absent from the plan get a single
// chunk spanning the whole dimension.
func (p ChunkPlan) For(ds *GridDataset, v *Variable) ([]int, error) {
	shape, err := ds.Shape(v)
	if err != nil {
		return nil, err
	}
	chunks := make([]int, len(shape))
	for i, d := range v.Dims {
		n := shape[i]
		want, ok := p[d]
		if !ok || want <= 0 || want > n {
			want = n
		}
		chunks[i] = max(want, 1)
	}
	return chunks, nil
}

// PlanChunks computes the chunk shape of every variable in ds.
func PlanChunks(ds *GridDataset, plan ChunkPlan) (map[string][]int, error) {
	out := make(map[string][]int, len(ds.Vars))
	for name, v := range ds.Vars {
		c, err := plan.For(ds, v)
		if err != nil {
			return nil, err
		}
		out[name] = c
	}
	return out, nil
}
