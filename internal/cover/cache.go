package cover

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
)

const maxTemplateBytes = 32 << 20

// TemplateCache holds decoded template bitmaps by URL. It is safe for
// concurrent use and may be shared by many compositors.
type TemplateCache struct {
	mu     sync.Mutex
	images map[string]image.Image
}

func NewTemplateCache() *TemplateCache {
	return &TemplateCache{images: make(map[string]image.Image)}
}

func (c *TemplateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

// Load returns the cached bitmap for name or reads and decodes it from src.
func (c *TemplateCache) Load(ctx context.Context, src TemplateSource, name string) (image.Image, error) {
	key := src.URL(name)

	c.mu.Lock()
	img, ok := c.images[key]
	c.mu.Unlock()
	if ok {
		return img, nil
	}

	data, err := src.ReadTemplate(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrTemplateLoad, name, err)
	}
	img, err = imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrTemplateLoad, name, err)
	}

	c.mu.Lock()
	if existing, ok := c.images[key]; ok {
		img = existing
	} else {
		c.images[key] = img
	}
	c.mu.Unlock()
	return img, nil
}
