package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-crawler/internal/crawler"
)

func TestFrontierStoreReplacesList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewFrontierStore()
	got, err := s.ListFrontier(ctx, "job-1")
	require.NoError(t, err)
	require.Empty(t, got)
	require.NotNil(t, got)

	first := []crawler.DiscoveredURL{{URL: "https://a.example/"}, {URL: "https://a.example/x", Depth: 1}}
	require.NoError(t, s.SaveFrontier(ctx, "job-1", first))
	first[0].URL = "mutated"

	got, err = s.ListFrontier(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "https://a.example/", got[0].URL)
	require.Len(t, got, 2)

	require.NoError(t, s.SaveFrontier(ctx, "job-1", []crawler.DiscoveredURL{{URL: "https://a.example/"}}))
	got, err = s.ListFrontier(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
}
