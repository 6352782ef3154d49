package etl

import (
	"context"
	"fmt"
	"regexp"
	"sort"
)

// DiscoveryPattern builds ^<prefix>.*<date>$ with both parts matched literally.
func DiscoveryPattern(prefix, date string) (*regexp.Regexp, error) {
	return regexp.Compile("^" + regexp.QuoteMeta(prefix) + ".*" + regexp.QuoteMeta(date) + "$")
}

// FilterCollections keeps the names matching DiscoveryPattern(prefix, date), sorted.
func FilterCollections(names []string, prefix, date string) ([]string, error) {
	re, err := DiscoveryPattern(prefix, date)
	if err != nil {
		return nil, fmt.Errorf("discovery pattern: %w", err)
	}
	var out []string
	for _, n := range names {
		if re.MatchString(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DiscoverCollections lists the source's collections and filters them.
// An empty result is not an error.
func DiscoverCollections(ctx context.Context, r SourceReader, prefix, date string) ([]string, error) {
	names, err := r.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return FilterCollections(names, prefix, date)
}
