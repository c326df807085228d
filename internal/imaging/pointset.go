package imaging

import (
	"math"
	"slices"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Point is a labeled coordinate.
type Point struct {
	X, Y, Z float64
	Label   string
}

// PointSet is a collaborator holding labeled coordinates. It implements
// PointSetLike and MetadataCarrier and is safe for concurrent use.
type PointSet struct {
	mu     sync.RWMutex
	name   string
	points []Point
	meta   *structpb.Struct
}

// NewPointSet returns a point set holding a copy of points.
func NewPointSet(name string, points ...Point) *PointSet {
	return &PointSet{name: name, points: slices.Clone(points)}
}

func (p *PointSet) Name() string { return p.name }

// Add appends points to the set.
func (p *PointSet) Add(points ...Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points = append(p.points, points...)
}

// Points returns a copy of the points in insertion order.
func (p *PointSet) Points() []Point {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.points)
}

// Len returns the number of points.
func (p *PointSet) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.points)
}

// Bounds returns the minimum and maximum corner of the bounding box.
// Both are the zero Point for an empty set.
func (p *PointSet) Bounds() (lo, hi Point) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.points) == 0 {
		return Point{}, Point{}
	}
	lo = Point{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi = Point{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, pt := range p.points {
		lo.X, hi.X = math.Min(lo.X, pt.X), math.Max(hi.X, pt.X)
		lo.Y, hi.Y = math.Min(lo.Y, pt.Y), math.Max(hi.Y, pt.Y)
		lo.Z, hi.Z = math.Min(lo.Z, pt.Z), math.Max(hi.Z, pt.Z)
	}
	return lo, hi
}

// Extent returns the size of the bounding box along each axis.
func (p *PointSet) Extent() (x, y, z float64) {
	lo, hi := p.Bounds()
	return hi.X - lo.X, hi.Y - lo.Y, hi.Z - lo.Z
}

// Metadata returns a copy of the set's metadata, or nil.
func (p *PointSet) Metadata() *structpb.Struct {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.meta == nil {
		return nil
	}
	return proto.Clone(p.meta).(*structpb.Struct)
}

// SetMetadata replaces the set's metadata.
func (p *PointSet) SetMetadata(m *structpb.Struct) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.meta = m
}
