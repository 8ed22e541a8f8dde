package s3

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectOlderThan(t *testing.T) {
	cutoff := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	objects := []StagedObject{
		{Key: "old-1", LastModified: cutoff.AddDate(0, 0, -10)},
		{Key: "fresh", LastModified: cutoff.AddDate(0, 0, 1)},
		{Key: "old-2", LastModified: cutoff.Add(-time.Second)},
		{Key: "boundary", LastModified: cutoff},
	}

	stale := SelectOlderThan(objects, cutoff)
	require.Len(t, stale, 2)
	assert.Equal(t, "old-1", stale[0].Key)
	assert.Equal(t, "old-2", stale[1].Key)
}

func TestRepositoryURL(t *testing.T) {
	r, err := New(
		WithBucket("tripline-staging"),
		WithRegion("us-east-1"),
		WithPrefix("runs"),
	)
	require.NoError(t, err)
	assert.Equal(t, "s3://tripline-staging/runs", r.URL())
}
