package pipeline

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("renders kind, context and cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := ExtractionError(cause, "failed to download %s", "x.parquet").
			WithContext("filename", "x.parquet")

		assert.Contains(t, err.Error(), "extraction:")
		assert.Contains(t, err.Error(), "filename=x.parquet")
		assert.Contains(t, err.Error(), "connection refused")
		assert.ErrorIs(t, err, cause)
	})

	t.Run("with context does not mutate the original", func(t *testing.T) {
		base := ValidationError("gate failed")
		derived := base.WithContext("filename", "x.parquet")

		assert.Empty(t, base.Context)
		assert.Equal(t, "x.parquet", derived.Context["filename"])
	})

	t.Run("wrap preserves an existing pipeline error", func(t *testing.T) {
		original := StageError(nil, "upload failed")
		wrapped := Wrap(KindExtraction, original)
		assert.Equal(t, KindStage, wrapped.Kind)
	})

	t.Run("wrap converts foreign errors", func(t *testing.T) {
		wrapped := Wrap(KindLoader, errors.New("boom"))
		require.NotNil(t, wrapped)
		assert.Equal(t, KindLoader, wrapped.Kind)
	})

	t.Run("wrap of nil is nil", func(t *testing.T) {
		assert.Nil(t, Wrap(KindLoader, nil))
	})
}

func TestCollector(t *testing.T) {
	t.Run("collects concurrently", func(t *testing.T) {
		c := NewCollector()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.AddError(LoaderError(nil, "batch failed"))
				c.AddWarning("slow batch", nil)
			}()
		}
		wg.Wait()

		assert.True(t, c.HasErrors())
		assert.Len(t, c.Errors(), 20)
		assert.Len(t, c.Warnings(), 20)
	})

	t.Run("nil errors are ignored", func(t *testing.T) {
		c := NewCollector()
		c.AddError(nil)
		assert.False(t, c.HasErrors())
	})
}
