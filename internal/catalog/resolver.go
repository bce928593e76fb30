package catalog

import "strings"

// Resolve matches a free-text medication suggestion against an indexed
// catalog. Passes run in order and the first hit wins: exact canonical match,
// hyphen-prefix match, then a token-overlap score fallback. A wrong product is
// worse than no product, so every pass requires dosage compatibility and the
// fallback refuses zero-score matches.
func Resolve(indexed []IndexedProduct, s Suggestion) (*Product, bool) {
	candidates := suggestionCandidates(s)
	if len(candidates) == 0 {
		return nil, false
	}
	wanted := DosageTokens(s.Code, s.Name, s.Strength)

	// Exact pass
	for _, cand := range candidates {
		for i := range indexed {
			entry := &indexed[i]
			if !dosageCompatible(wanted, entry.DosageTokens) {
				continue
			}
			if cand == entry.CanonicalSlug || cand == entry.CanonicalName {
				return &entry.Product, true
			}
		}
	}

	// Prefix pass
	for _, cand := range candidates {
		for i := range indexed {
			entry := &indexed[i]
			if !dosageCompatible(wanted, entry.DosageTokens) {
				continue
			}
			if hyphenPrefix(entry.CanonicalSlug, cand) || hyphenPrefix(cand, entry.CanonicalSlug) {
				return &entry.Product, true
			}
		}
	}

	// Scored fallback
	candidateTokens := map[string]struct{}{}
	for _, cand := range candidates {
		for _, tok := range strings.Split(cand, "-") {
			if tok != "" {
				candidateTokens[tok] = struct{}{}
			}
		}
	}

	var best *Product
	bestScore := 0
	for i := range indexed {
		entry := &indexed[i]
		if !dosageCompatible(wanted, entry.DosageTokens) {
			continue
		}
		score := 0
		for _, tok := range strings.Split(entry.CanonicalSlug, "-") {
			if _, ok := candidateTokens[tok]; ok {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = &entry.Product
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// suggestionCandidates derives the normalized lookup keys in fixed order:
// code, name, name+strength.
func suggestionCandidates(s Suggestion) []string {
	raws := []string{s.Code, s.Name}
	if strings.TrimSpace(s.Name) != "" && strings.TrimSpace(s.Strength) != "" {
		raws = append(raws, s.Name+" "+s.Strength)
	}
	seen := map[string]struct{}{}
	candidates := make([]string, 0, len(raws))
	for _, raw := range raws {
		cand := Canonicalize(raw)
		if cand == "" {
			continue
		}
		if _, dup := seen[cand]; dup {
			continue
		}
		seen[cand] = struct{}{}
		candidates = append(candidates, cand)
	}
	return candidates
}

// dosageCompatible treats an empty set on either side as "no constraint".
func dosageCompatible(a, b map[string]struct{}) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for tok := range a {
		if _, ok := b[tok]; ok {
			return true
		}
	}
	return false
}

func hyphenPrefix(prefix, full string) bool {
	if prefix == "" || full == "" {
		return false
	}
	if prefix == full {
		return true
	}
	return strings.HasPrefix(full, prefix+"-")
}
