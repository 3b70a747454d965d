package corpus

import (
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/happyhackingspace/seqlab/crf"
)

// GetDomain extracts the domain name from a URL (for grouped cross-validation).
func GetDomain(rawURL string) string {
	host := rawURL
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}
	if idx := strings.Index(host, "/"); idx >= 0 {
		host = host[:idx]
	}
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	// "example.co.uk" → "example"
	if idx := strings.Index(domain, "."); idx >= 0 {
		return domain[:idx]
	}
	return domain
}

// AssignGroups sets each sequence's Group from the domain of its Source, so
// pages of one site land in the same fold. Sequences without a source each
// get a group of their own.
func AssignGroups(seqs []crf.TrainingSequence) []int {
	groups := make([]int, len(seqs))
	ids := make(map[string]int)
	for i := range seqs {
		key := "\x00" + seqs[i].Name
		if seqs[i].Source != "" {
			key = GetDomain(seqs[i].Source)
		}
		if _, ok := ids[key]; !ok {
			ids[key] = len(ids)
		}
		groups[i] = ids[key]
		seqs[i].Group = groups[i]
	}
	return groups
}

// GroupKFold splits indices into at most nFolds folds, keeping every group
// within one fold. Groups are dealt round-robin in ascending order.
func GroupKFold(groups []int, nFolds int) [][]int {
	unique := make(map[int]bool)
	for _, g := range groups {
		unique[g] = true
	}
	sorted := make([]int, 0, len(unique))
	for g := range unique {
		sorted = append(sorted, g)
	}
	sort.Ints(sorted)

	if nFolds > len(sorted) {
		nFolds = len(sorted)
	}
	if nFolds <= 0 {
		return nil
	}

	groupToFold := make(map[int]int, len(sorted))
	for i, g := range sorted {
		groupToFold[g] = i % nFolds
	}
	folds := make([][]int, nFolds)
	for i, g := range groups {
		fold := groupToFold[g]
		folds[fold] = append(folds[fold], i)
	}
	return folds
}
