package bridge

import (
	"slices"

	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/imaging"
)

// region describes the bytes a transfer covers within one slice.
type region struct {
	stride int // bytes per slice row
	offset int // offset of the first covered byte
	span   int // covered bytes per row
	rows   int
}

func regionOf(img imaging.Image, roi *ROI) (region, error) {
	px := img.PixelType().Size() * max(img.ChannelCount(), 1)
	if px == 0 {
		return region{}, errors.Wrapf(errors.ErrInvalidInput, "image %q has no pixel data", img.Name())
	}
	w, h := img.Width(), img.Height()
	stride := w * px
	if roi == nil {
		return region{stride: stride, span: stride, rows: h}, nil
	}
	if roi.Width <= 0 || roi.Height <= 0 || roi.X < 0 || roi.Y < 0 ||
		roi.X+roi.Width > w || roi.Y+roi.Height > h {
		return region{}, errors.Wrapf(errors.ErrOutOfBounds, "roi %s outside %dx%d image %q", roi, w, h, img.Name())
	}
	return region{
		stride: stride,
		offset: roi.Y*stride + roi.X*px,
		span:   roi.Width * px,
		rows:   roi.Height,
	}, nil
}

func (r region) size() int { return r.span * r.rows }

func (r region) check(slice []byte) error {
	if r.rows == 0 {
		return nil
	}
	if need := r.offset + (r.rows-1)*r.stride + r.span; len(slice) < need {
		return errors.Wrapf(errors.ErrOutOfBounds, "slice holds %d bytes, region needs %d", len(slice), need)
	}
	return nil
}

// gather copies the region out of slice into dst, row-major.
func (r region) gather(dst, slice []byte) {
	if r.span == r.stride {
		copy(dst, slice[r.offset:r.offset+r.size()])
		return
	}
	for i := range r.rows {
		o := r.offset + i*r.stride
		copy(dst[i*r.span:(i+1)*r.span], slice[o:o+r.span])
	}
}

// scatter copies row-major src into the region of slice.
func (r region) scatter(slice, src []byte) {
	if r.span == r.stride {
		copy(slice[r.offset:r.offset+r.size()], src)
		return
	}
	for i := range r.rows {
		o := r.offset + i*r.stride
		copy(slice[o:o+r.span], src[i*r.span:(i+1)*r.span])
	}
}

// destinationName maps the empty name to the default destination.
func destinationName(name string) string {
	if name == "" {
		return imaging.DefaultDestination
	}
	return name
}

func reservedName(name string) bool {
	return name == "" || name == imaging.DefaultSource || imaging.IsDefaultDestination(name)
}

func displayName(name string) string {
	if name == "" {
		return imaging.DefaultSource
	}
	return name
}

// resolve looks up a collaborator for a callback. Missing collaborators
// other than the defaults are auxiliary: the operation is skipped without
// failing the run.
func (s *Supervisor) resolve(callback, name string) (imaging.Collaborator, error) {
	catalog := s.catalog.Load()
	if catalog == nil {
		return nil, errors.NewCallbackError(callback, errors.ErrTerminated).WithImage(displayName(name))
	}
	col, err := catalog.Resolve(name)
	if err != nil {
		cbErr := errors.NewCallbackError(callback, err).WithImage(displayName(name))
		if !reservedName(name) {
			cbErr.AsAuxiliary()
		}
		return nil, cbErr
	}
	return col, nil
}

func (s *Supervisor) resolveImage(callback, name string) (imaging.Image, error) {
	col, err := s.resolve(callback, name)
	if err != nil {
		return nil, err
	}
	img, ok := col.(imaging.Image)
	if !ok {
		return nil, errors.NewCallbackError(callback,
			errors.Wrapf(errors.ErrInvalidInput, "collaborator %q is not an image", col.Name())).
			WithImage(displayName(name))
	}
	return img, nil
}

// beginTransfer claims the transfer buffer for one pixel callback.
func (s *Supervisor) beginTransfer(callback string) (*transferBuffer, func(), error) {
	buf := s.buffer.Load()
	if buf == nil {
		return nil, nil, errors.NewCallbackError(callback, errors.ErrTerminated)
	}
	end, err := buf.begin()
	if err != nil {
		s.logger.WithCallback(callback).Error("transfer buffer reused while in flight", "error", err)
		return nil, nil, errors.NewCallbackError(callback, err)
	}
	return buf, end, nil
}

func (s *Supervisor) getPixels(slice int, image string, roi *ROI, _ imaging.CachePolicy) []byte {
	var out []byte
	s.guard(cbGetPixels, func() error {
		buf, end, err := s.beginTransfer(cbGetPixels)
		if err != nil {
			return err
		}
		defer end()

		// Reads observe every write submitted before them.
		s.writer.flush()

		img, err := s.resolveImage(cbGetPixels, image)
		if err != nil {
			return err
		}
		r, err := regionOf(img, roi)
		if err != nil {
			return errors.NewCallbackError(cbGetPixels, err).WithImage(img.Name()).WithSlice(slice)
		}
		src, err := img.SlicePixels(slice)
		if err == nil {
			err = r.check(src)
		}
		if err != nil {
			return errors.NewCallbackError(cbGetPixels, err).WithImage(img.Name()).WithSlice(slice)
		}

		buf.ensure(r.size())
		out = buf.view(r.size())
		r.gather(out, src)
		return nil
	})
	return out
}

func (s *Supervisor) setPixels(slice int, image string, roi *ROI, cache imaging.CachePolicy, async bool) bool {
	name := destinationName(image)
	return s.guard(cbSetPixels, func() error {
		buf, end, err := s.beginTransfer(cbSetPixels)
		if err != nil {
			return err
		}
		defer end()

		img, err := s.resolveImage(cbSetPixels, name)
		if err != nil {
			return err
		}
		fail := func(err error) error {
			return errors.NewCallbackError(cbSetPixels, err).WithImage(img.Name()).WithSlice(slice)
		}

		bw, ok := img.(imaging.BulkWriter)
		if !ok {
			return fail(errors.ErrBulkWriteUnsupported)
		}
		r, err := regionOf(img, roi)
		if err != nil {
			return fail(err)
		}
		if r.size() > buf.capacity() {
			return fail(errors.Wrapf(errors.ErrBufferTooSmall, "region needs %d bytes, buffer holds %d", r.size(), buf.capacity()))
		}
		src := buf.view(r.size())

		write := func(data []byte) (func() error, error) {
			dst, err := bw.MutableSlice(slice, cache)
			if err == nil {
				err = r.check(dst)
			}
			if err != nil {
				return nil, fail(err)
			}
			return func() error {
				r.scatter(dst, data)
				return nil
			}, nil
		}

		if async && s.asyncWrites {
			// The buffer is reused as soon as this returns.
			data := slices.Clone(src)
			s.writer.submit(func() (func() error, error) { return write(data) })
			return nil
		}

		s.writer.flush()
		apply, err := write(src)
		if err != nil {
			return err
		}
		return apply()
	})
}

func (s *Supervisor) setPixel(slice int, image string, x, y int, _ imaging.CachePolicy, value float64) bool {
	name := destinationName(image)
	return s.guard(cbSetPixel, func() error {
		img, err := s.resolveImage(cbSetPixel, name)
		if err != nil {
			return err
		}
		s.writer.flush()
		if err := img.SetPixelValue(x, y, slice, value); err != nil {
			return errors.NewCallbackError(cbSetPixel, err).WithImage(img.Name()).WithSlice(slice)
		}
		return nil
	})
}

// asyncWriteFailed reports a deferred write that failed after SetPixels returned.
func (s *Supervisor) asyncWriteFailed(err error) {
	s.report(cbSetPixels, err)
}
