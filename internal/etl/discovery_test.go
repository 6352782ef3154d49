package etl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterCollections(t *testing.T) {
	names := []string{
		"logs-app-2024-01-15",
		"logs-db-2024-01-15",
		"logs-app-2024-01-16",
		"metrics-2024-01-15",
		"logs-2024-01-15-old",
		"logs-2024x01x15",
	}
	got, err := FilterCollections(names, "logs-", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs-app-2024-01-15", "logs-db-2024-01-15"}, got)
}

func TestFilterCollections_PrefixIsLiteral(t *testing.T) {
	names := []string{"a.b-2024-01-15", "axb-2024-01-15"}
	got, err := FilterCollections(names, "a.b", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.b-2024-01-15"}, got)
}

func TestFilterCollections_DateOnlyIsSuffix(t *testing.T) {
	got, err := FilterCollections([]string{"2024-01-15", "x-2024-01-15"}, "", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-15", "x-2024-01-15"}, got)
}

func TestDiscoverCollections_NoMatchIsEmpty(t *testing.T) {
	src := &fakeSource{names: []string{"other-2024-01-15"}}
	got, err := DiscoverCollections(context.Background(), src, "logs-", "2024-01-15")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDiscoverCollections_SortsMatches(t *testing.T) {
	src := &fakeSource{names: []string{"logs-b-2024-01-15", "logs-a-2024-01-15"}}
	got, err := DiscoverCollections(context.Background(), src, "logs-", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs-a-2024-01-15", "logs-b-2024-01-15"}, got)
}
