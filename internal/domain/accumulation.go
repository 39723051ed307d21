package domain

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// BucketPair names a bucket-split accumulation and its overflow counter.
type BucketPair struct {
	Accumulated string `yaml:"accumulated"`
	Bucket      string `yaml:"bucket"`
}

// DefaultBucketPairs are the CONUS404 radiation totals written as
// remainder plus counter.
var DefaultBucketPairs = []BucketPair{
	{Accumulated: "ACLWDNB", Bucket: "I_ACLWDNB"},
	{Accumulated: "ACLWUPB", Bucket: "I_ACLWUPB"},
	{Accumulated: "ACSWDNB", Bucket: "I_ACSWDNB"},
	{Accumulated: "ACSWDNT", Bucket: "I_ACSWDNT"},
	{Accumulated: "ACSWUPB", Bucket: "I_ACSWUPB"},
}

// ResolveBucketAccumulation returns the true since-start total of a
// bucket-split accumulation as accumulated + bucket, elementwise. The result
// carries the accumulated variable's attributes with "notes" removed and the
// integration length rewritten to the since-start text.
func ResolveBucketAccumulation(acc, bucket *Variable) (*Variable, error) {
	if acc.Data == nil || bucket.Data == nil {
		return nil, fmt.Errorf("resolve %s: variables must be loaded", acc.Name)
	}
	if !slices.Equal(acc.Data.Shape, bucket.Data.Shape) {
		return nil, fmt.Errorf("resolve %s with %s: %w: %v vs %v",
			acc.Name, bucket.Name, ErrShapeMismatch, acc.Data.Shape, bucket.Data.Shape)
	}

	out := acc.Clone()
	floats.Add(out.Data.Elements, bucket.Data.Elements)
	if out.DType != Float64 {
		out.DType = Float32
	}
	delete(out.Attrs, "notes")
	out.Attrs[IntegrationAttr] = IntegrationSinceStart
	return out, nil
}

// BucketMode describes how a dataset relates to a set of bucket pairs.
type BucketMode int

const (
	// BucketNone means no pair variables are present.
	BucketNone BucketMode = iota
	// BucketOnly means every time-varying variable belongs to a pair.
	BucketOnly
	// BucketMixed means pair variables are present alongside others.
	BucketMixed
)

func (m BucketMode) String() string {
	switch m {
	case BucketOnly:
		return "bucket-only"
	case BucketMixed:
		return "mixed"
	default:
		return "none"
	}
}

// DetectBucketMode reports whether ds holds only bucket pair variables, a mix,
// or none. Constants are ignored.
func DetectBucketMode(ds *GridDataset, pairs []BucketPair) BucketMode {
	var paired, other int
	for _, v := range ds.Vars {
		if !v.IsTimeVarying() {
			continue
		}
		if pairIndex(pairs, v.Name) >= 0 {
			paired++
		} else {
			other++
		}
	}
	switch {
	case paired == 0:
		return BucketNone
	case other == 0:
		return BucketOnly
	default:
		return BucketMixed
	}
}

// ResolveBuckets replaces each accumulated variable with its resolved total
// and removes every bucket counter. Both halves of every pair must be present.
func ResolveBuckets(ds *GridDataset, pairs []BucketPair) (*GridDataset, error) {
	out := ds.Drop(PairNames(pairs)...)
	for _, p := range pairs {
		acc, ok := ds.Vars[p.Accumulated]
		if !ok {
			return nil, fmt.Errorf("resolve buckets: %w: %s", ErrUnknownVariable, p.Accumulated)
		}
		bucket, ok := ds.Vars[p.Bucket]
		if !ok {
			return nil, fmt.Errorf("resolve buckets: %w: %s", ErrUnknownVariable, p.Bucket)
		}
		resolved, err := ResolveBucketAccumulation(acc, bucket)
		if err != nil {
			return nil, err
		}
		out.Vars[p.Accumulated] = resolved
	}
	return out, nil
}

// DropBucketPairs removes both halves of every pair, deferring them to a
// bucket-only pass.
func DropBucketPairs(ds *GridDataset, pairs []BucketPair) *GridDataset {
	return ds.Drop(PairNames(pairs)...)
}

// PairNames lists every accumulated and bucket name in pairs.
func PairNames(pairs []BucketPair) []string {
	names := make([]string, 0, 2*len(pairs))
	for _, p := range pairs {
		names = append(names, p.Accumulated, p.Bucket)
	}
	return names
}

// BucketNames lists only the counter half of each pair.
func BucketNames(pairs []BucketPair) []string {
	names := make([]string, 0, len(pairs))
	for _, p := range pairs {
		names = append(names, p.Bucket)
	}
	return names
}

func pairIndex(pairs []BucketPair, name string) int {
	return slices.IndexFunc(pairs, func(p BucketPair) bool {
		return p.Accumulated == name || p.Bucket == name
	})
}
