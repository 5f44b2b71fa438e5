package canvas

import (
	"context"
	"fmt"

	"github.com/mcdev12/pixelcanvas/go/internal/kvstore"
)

const (
	// pixelsKey is the hash holding coordinate -> color
	pixelsKey = "pixels"

	// seqKey counts accepted writes; bumped atomically with every cell write
	seqKey = "pixels:seq"
)

// Repository reads and writes cells in the key-value store
type Repository struct {
	store kvstore.Store
}

// NewRepository creates a new canvas repository
func NewRepository(store kvstore.Store) *Repository {
	return &Repository{store: store}
}

// GetPixels returns the raw "x,y" -> color hash
func (r *Repository) GetPixels(ctx context.Context) (map[string]string, error) {
	pixels, err := r.store.HGetAll(ctx, pixelsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read pixels: %w", err)
	}
	return pixels, nil
}

// SetPixel overwrites one cell and returns the write's sequence number
func (r *Repository) SetPixel(ctx context.Context, coord Coordinate, color string) (int64, error) {
	seq, err := r.store.HSetIncr(ctx, pixelsKey, coord.Key(), color, seqKey)
	if err != nil {
		return 0, fmt.Errorf("failed to write pixel %s: %w", coord.Key(), err)
	}
	return seq, nil
}
