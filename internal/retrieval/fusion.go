package retrieval

import "sort"

// DefaultRRFK is the standard RRF smoothing constant (spec.md §4.6.3),
// the same value used by Azure AI Search and OpenSearch.
const DefaultRRFK = 60

// FusedHit is one document's combined score after fusing its appearances
// across every ranked list.
type FusedHit struct {
	Hash      string
	RRFScore  float64
	ListCount int // number of lists the document appeared in
	TopScore  float64
}

// Fuse combines ranked lists by Reciprocal Rank Fusion: a document at
// 1-based rank r in list i with weight w_i contributes w_i/(k+r).
// Documents absent from a list get no contribution from it — spec.md
// §4.6.3 accumulates only over lists a document actually appears in.
// Results are sorted by RRFScore desc, then ListCount desc, then Hash
// asc, for determinism.
func Fuse(lists []RankedList, k int) []FusedHit {
	if k <= 0 {
		k = DefaultRRFK
	}

	byHash := make(map[string]*FusedHit)
	for _, list := range lists {
		for rank, hit := range list.Hits {
			fh, ok := byHash[hit.Hash]
			if !ok {
				fh = &FusedHit{Hash: hit.Hash}
				byHash[hit.Hash] = fh
			}
			fh.RRFScore += list.Weight / float64(k+rank+1)
			fh.ListCount++
			if hit.Score > fh.TopScore {
				fh.TopScore = hit.Score
			}
		}
	}

	results := make([]FusedHit, 0, len(byHash))
	for _, fh := range byHash {
		results = append(results, *fh)
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		if a.ListCount != b.ListCount {
			return a.ListCount > b.ListCount
		}
		return a.Hash < b.Hash
	})

	normalize(results)
	return results
}

// normalize scales RRFScore to 0..1 by dividing by the top fused score
// (spec.md §4.6.3 step 4).
func normalize(results []FusedHit) {
	if len(results) == 0 {
		return
	}
	top := results[0].RRFScore
	if top == 0 {
		return
	}
	for i := range results {
		results[i].RRFScore /= top
	}
}

// StrongSignalBypass reports whether the fused result set is confident
// enough to skip reranking entirely (spec.md §4.6.3 step 5 / §8
// invariant 7): no intent supplied, top score ≥ 0.85, and the gap to the
// second result is ≥ 0.15. Results must already be sorted descending.
func StrongSignalBypass(results []FusedHit, intent string) bool {
	if intent != "" {
		return false
	}
	if len(results) == 0 {
		return false
	}
	top := results[0].RRFScore
	if top < 0.85 {
		return false
	}
	if len(results) == 1 {
		return true
	}
	return top-results[1].RRFScore >= 0.15
}
