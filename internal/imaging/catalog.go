package imaging

import (
	"sort"
	"sync"

	"github.com/Iron-Ham/pixbridge/internal/errors"
)

// Reserved collaborator names resolved without a lookup.
const (
	DefaultSource      = "Default source"
	DefaultDestination = "Default destination"
)

// Catalog resolves collaborators by name. The zero value is not usable;
// construct one with NewCatalog.
type Catalog struct {
	mu     sync.RWMutex
	byName map[string]Collaborator
	source Collaborator
	dest   Collaborator
}

// NewCatalog returns a catalog with the given primary input and output.
// Either may be nil.
func NewCatalog(source, destination Collaborator) *Catalog {
	return &Catalog{
		byName: make(map[string]Collaborator),
		source: source,
		dest:   destination,
	}
}

// Register adds collaborators under their Name, replacing any previous
// entry with the same name.
func (c *Catalog) Register(cs ...Collaborator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, col := range cs {
		c.byName[col.Name()] = col
	}
}

// SetDefaultSource replaces the primary input.
func (c *Catalog) SetDefaultSource(col Collaborator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = col
}

// SetDefaultDestination replaces the primary output.
func (c *Catalog) SetDefaultDestination(col Collaborator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dest = col
}

// IsDefaultDestination reports whether name refers to the primary output.
func IsDefaultDestination(name string) bool {
	return name == DefaultDestination
}

// Resolve returns the collaborator for name. An empty name is the default
// source. Missing collaborators yield an error matching
// errors.ErrCollaboratorNotFound.
func (c *Catalog) Resolve(name string) (Collaborator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var col Collaborator
	switch name {
	case "", DefaultSource:
		col = c.source
	case DefaultDestination:
		col = c.dest
	default:
		col = c.byName[name]
	}
	if col == nil {
		if name == "" {
			name = DefaultSource
		}
		return nil, errors.NewNotFoundError("collaborator", name)
	}
	return col, nil
}

// ResolveImage resolves name and requires the result to be an Image.
func (c *Catalog) ResolveImage(name string) (Image, error) {
	col, err := c.Resolve(name)
	if err != nil {
		return nil, err
	}
	img, ok := col.(Image)
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "collaborator %q is not an image", col.Name())
	}
	return img, nil
}

// Images returns every distinct image in the catalog, defaults included,
// sorted by name.
func (c *Catalog) Images() []Image {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[Collaborator]bool)
	var out []Image
	add := func(col Collaborator) {
		if col == nil || seen[col] {
			return
		}
		seen[col] = true
		if img, ok := col.(Image); ok {
			out = append(out, img)
		}
	}
	add(c.source)
	add(c.dest)
	for _, col := range c.byName {
		add(col)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// LargestSliceBytes returns the largest width×height×channels×pixel size
// over every image in the catalog.
func (c *Catalog) LargestSliceBytes() int {
	largest := 0
	for _, img := range c.Images() {
		n := img.Width() * img.Height() * max(img.ChannelCount(), 1) * img.PixelType().Size()
		largest = max(largest, n)
	}
	return largest
}
