package imaging

import (
	"encoding/binary"
	"math"
	"slices"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Iron-Ham/pixbridge/internal/errors"
)

// Stack is an in-memory image of Depth slices. It implements Image,
// BulkWriter and MetadataCarrier and is safe for concurrent use.
type Stack struct {
	mu        sync.RWMutex
	name      string
	width     int
	height    int
	channels  int
	pixelType PixelType
	slices    [][]byte
	meta      *structpb.Struct
}

// NewStack allocates a zeroed stack.
func NewStack(name string, width, height, depth, channels int, pixelType PixelType) *Stack {
	s := &Stack{name: name, pixelType: pixelType}
	s.allocate(Dimensions{X: width, Y: height, Z: depth, C: channels})
	return s
}

// NewStackFromSlices builds a single-channel stack from raw slices sized
// width*height*pixelType.Size(). The slices are copied.
func NewStackFromSlices(name string, width, height int, pixelType PixelType, data ...[]byte) (*Stack, error) {
	want := width * height * pixelType.Size()
	s := &Stack{name: name, width: width, height: height, channels: 1, pixelType: pixelType}
	for i, d := range data {
		if len(d) != want {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "slice %d has %d bytes, want %d", i, len(d), want)
		}
		s.slices = append(s.slices, slices.Clone(d))
	}
	return s, nil
}

// allocate must be called with mu held (or before the stack is shared).
func (s *Stack) allocate(d Dimensions) {
	if d.C < 1 {
		d.C = 1
	}
	s.width, s.height, s.channels = d.X, d.Y, d.C
	s.slices = make([][]byte, d.Z)
	n := d.SliceBytes(s.pixelType)
	for i := range s.slices {
		s.slices[i] = make([]byte, n)
	}
}

func (s *Stack) Name() string { return s.name }

func (s *Stack) Width() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width
}

func (s *Stack) Height() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

func (s *Stack) Depth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slices)
}

func (s *Stack) ChannelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels
}

func (s *Stack) PixelType() PixelType { return s.pixelType }

// SliceBytes returns the size in bytes of one slice.
func (s *Stack) SliceBytes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width * s.height * s.channels * s.pixelType.Size()
}

func (s *Stack) slice(index int) ([]byte, error) {
	if index < 0 || index >= len(s.slices) {
		return nil, errors.Wrapf(errors.ErrOutOfBounds, "slice %d of %d", index, len(s.slices))
	}
	return s.slices[index], nil
}

// SlicePixels returns the raw samples of slice index without copying.
func (s *Stack) SlicePixels(index int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slice(index)
}

// MutableSlice returns slice index for in-place writes. The cache policy is
// accepted for interface compatibility; a Stack always retains its slices.
func (s *Stack) MutableSlice(index int, _ CachePolicy) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slice(index)
}

// SetPixelValue writes the first channel of the sample at (x, y).
func (s *Stack) SetPixelValue(x, y, index int, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := s.slice(index)
	if err != nil {
		return err
	}
	if x < 0 || y < 0 || x >= s.width || y >= s.height {
		return errors.Wrapf(errors.ErrOutOfBounds, "pixel (%d,%d) outside %dx%d", x, y, s.width, s.height)
	}
	size := s.pixelType.Size()
	off := (y*s.width + x) * s.channels * size
	PutSample(buf[off:off+size], s.pixelType, value)
	return nil
}

// PixelValue reads the first channel of the sample at (x, y).
func (s *Stack) PixelValue(x, y, index int) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, err := s.slice(index)
	if err != nil {
		return 0, err
	}
	if x < 0 || y < 0 || x >= s.width || y >= s.height {
		return 0, errors.Wrapf(errors.ErrOutOfBounds, "pixel (%d,%d) outside %dx%d", x, y, s.width, s.height)
	}
	size := s.pixelType.Size()
	off := (y*s.width + x) * s.channels * size
	return Sample(buf[off:off+size], s.pixelType), nil
}

// Metadata returns a copy of the stack's metadata, or nil.
func (s *Stack) Metadata() *structpb.Struct {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.meta == nil {
		return nil
	}
	return proto.Clone(s.meta).(*structpb.Struct)
}

// SetMetadata replaces the stack's metadata.
func (s *Stack) SetMetadata(m *structpb.Struct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = m
}

// DeferredStack is a destination whose shape is decided by the worker
// through setDimensions. It starts empty.
type DeferredStack struct {
	*Stack
}

// NewDeferredStack returns an unallocated destination.
func NewDeferredStack(name string) *DeferredStack {
	return &DeferredStack{Stack: &Stack{name: name, channels: 1, pixelType: Uint8}}
}

// Allocate (re)allocates the stack with the given shape, discarding its
// previous contents. T must be 0 or 1.
func (d *DeferredStack) Allocate(dims Dimensions, pixelType PixelType) error {
	if dims.X < 0 || dims.Y < 0 || dims.Z < 0 || dims.T > 1 || pixelType.Size() == 0 {
		return errors.Wrapf(errors.ErrInvalidInput, "cannot allocate %+v of %s", dims, pixelType)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pixelType = pixelType
	d.allocate(dims)
	return nil
}

// PixelType returns the pixel type of the current allocation.
func (d *DeferredStack) PixelType() PixelType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pixelType
}

// PutSample encodes value into dst using the little-endian layout of p.
// Integer types are rounded and clamped to their range.
func PutSample(dst []byte, p PixelType, value float64) {
	switch p {
	case Uint8:
		dst[0] = uint8(clamp(value, math.MaxUint8))
	case Uint16:
		binary.LittleEndian.PutUint16(dst, uint16(clamp(value, math.MaxUint16)))
	case Float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(value)))
	}
}

// Sample decodes one sample of type p from src.
func Sample(src []byte, p PixelType) float64 {
	switch p {
	case Uint8:
		return float64(src[0])
	case Uint16:
		return float64(binary.LittleEndian.Uint16(src))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(src)))
	default:
		return 0
	}
}

func clamp(v, hi float64) float64 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
