package imaging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/imaging"
)

func TestCatalogResolve(t *testing.T) {
	src := imaging.NewStack("input", 4, 4, 1, 1, imaging.Uint8)
	dst := imaging.NewStack("output", 4, 4, 1, 1, imaging.Uint8)
	mask := imaging.NewStack("mask", 2, 2, 1, 1, imaging.Uint8)

	cat := imaging.NewCatalog(src, dst)
	cat.Register(mask)

	tests := []struct {
		name string
		want imaging.Collaborator
	}{
		{name: "", want: src},
		{name: imaging.DefaultSource, want: src},
		{name: imaging.DefaultDestination, want: dst},
		{name: "mask", want: mask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cat.Resolve(tt.name)
			require.NoError(t, err)
			assert.Same(t, tt.want, got)
		})
	}

	_, err := cat.Resolve("overlay")
	assert.ErrorIs(t, err, errors.ErrCollaboratorNotFound)
}

func TestCatalogMissingDefaults(t *testing.T) {
	cat := imaging.NewCatalog(nil, nil)

	_, err := cat.Resolve("")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCollaboratorNotFound)
	assert.Contains(t, err.Error(), imaging.DefaultSource)

	_, err = cat.Resolve(imaging.DefaultDestination)
	assert.ErrorIs(t, err, errors.ErrCollaboratorNotFound)

	cat.SetDefaultDestination(imaging.NewStack("late", 1, 1, 1, 1, imaging.Uint8))
	_, err = cat.Resolve(imaging.DefaultDestination)
	assert.NoError(t, err)
}

func TestCatalogResolveImage(t *testing.T) {
	cat := imaging.NewCatalog(nil, nil)
	cat.Register(imaging.NewPointSet("points"))

	_, err := cat.ResolveImage("points")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestCatalogLargestSliceBytes(t *testing.T) {
	src := imaging.NewStack("input", 10, 10, 1, 1, imaging.Uint8)
	big := imaging.NewStack("big", 8, 8, 2, 1, imaging.Uint16)
	rgb := imaging.NewStack("rgb", 5, 5, 1, 3, imaging.Uint8)
	cat := imaging.NewCatalog(src, src)
	cat.Register(big, rgb, imaging.NewPointSet("points"))

	assert.Equal(t, 128, cat.LargestSliceBytes())
	assert.Len(t, cat.Images(), 3)
	assert.True(t, imaging.IsDefaultDestination(imaging.DefaultDestination))
	assert.False(t, imaging.IsDefaultDestination("mask"))
}
