package bridge

import (
	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/imaging"
)

func (s *Supervisor) dimensionsOf(callback, name string) (imaging.Dimensions, error) {
	col, err := s.resolve(callback, name)
	if err != nil {
		return imaging.Dimensions{}, err
	}
	d, ok := imaging.DimensionsOf(col)
	if !ok {
		return imaging.Dimensions{}, errors.NewCallbackError(callback,
			errors.Wrapf(errors.ErrInvalidInput, "collaborator %q has no shape", col.Name())).
			WithImage(col.Name())
	}
	return d, nil
}

func (s *Supervisor) getDimensions(image string) imaging.Dimensions {
	var d imaging.Dimensions
	s.guard(cbGetDimensions, func() error {
		var err error
		d, err = s.dimensionsOf(cbGetDimensions, image)
		return err
	})
	return d
}

func (s *Supervisor) getDimensionsByRef(image string, out *imaging.Dimensions) bool {
	return s.guard(cbGetDimensionsByRef, func() error {
		if out == nil {
			return errors.NewCallbackError(cbGetDimensionsByRef,
				errors.Wrap(errors.ErrInvalidInput, "nil output")).WithImage(displayName(image))
		}
		d, err := s.dimensionsOf(cbGetDimensionsByRef, image)
		if err != nil {
			return err
		}
		*out = d
		return nil
	})
}

// setDimensions allocates a destination. The pixel type follows the
// destination if it is already allocated, otherwise the default source.
func (s *Supervisor) setDimensions(image string, dims imaging.Dimensions) bool {
	name := destinationName(image)
	return s.guard(cbSetDimensions, func() error {
		col, err := s.resolve(cbSetDimensions, name)
		if err != nil {
			return err
		}
		fail := func(err error) error {
			return errors.NewCallbackError(cbSetDimensions, err).WithImage(col.Name())
		}

		a, ok := col.(imaging.Allocatable)
		if !ok {
			return fail(errors.ErrDeferredAllocationUnsupported)
		}
		if dims.X <= 0 || dims.Y <= 0 || dims.Z <= 0 {
			return fail(errors.Wrapf(errors.ErrInvalidInput, "dimensions %+v", dims))
		}
		// Pending writes were shaped for the previous allocation.
		s.writer.flush()
		pt := s.allocationPixelType(col)
		if err := a.Allocate(dims, pt); err != nil {
			return fail(err)
		}
		if buf := s.buffer.Load(); buf != nil {
			buf.grow(dims.SliceBytes(pt))
		}
		s.logger.WithCallback(cbSetDimensions).Debug("destination allocated",
			"image", col.Name(), "x", dims.X, "y", dims.Y, "z", dims.Z, "c", dims.C)
		return nil
	})
}

func (s *Supervisor) allocationPixelType(dest imaging.Collaborator) imaging.PixelType {
	if img, ok := dest.(imaging.Image); ok && img.Depth() > 0 && img.PixelType().Size() > 0 {
		return img.PixelType()
	}
	if catalog := s.catalog.Load(); catalog != nil {
		if src, err := catalog.ResolveImage(imaging.DefaultSource); err == nil {
			return src.PixelType()
		}
	}
	return imaging.Uint8
}
