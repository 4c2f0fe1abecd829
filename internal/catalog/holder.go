package catalog

import (
	"errors"
	"sync/atomic"

	"stockcontrol/internal/types"

	log "github.com/sirupsen/logrus"
)

// Holder publishes the live catalog snapshot. Readers never block; a reload swaps the whole snapshot.
type Holder struct {
	cur  atomic.Pointer[types.Catalog]
	path string
}

func NewHolder(c *types.Catalog) *Holder {
	h := &Holder{}
	if c == nil {
		c = &types.Catalog{Shops: map[string]*types.ShopDefinition{}}
	}
	h.cur.Store(c)
	return h
}

// NewFileHolder loads the catalog at path; Reload re-reads the same file.
func NewFileHolder(path string) (*Holder, error) {
	c, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	h := NewHolder(c)
	h.path = path
	return h, nil
}

func (h *Holder) Load() *types.Catalog {
	return h.cur.Load()
}

func (h *Holder) Swap(c *types.Catalog) {
	h.cur.Store(c)
}

func (h *Holder) Path() string {
	return h.path
}

// Reload re-reads the catalog file. A catalog with any error is rejected wholesale and the
// previous snapshot stays live.
func (h *Holder) Reload() error {
	if h.path == "" {
		return errors.New("catalog has no backing file")
	}
	c, err := LoadFile(h.path)
	if err != nil {
		log.WithError(err).WithField("file", h.path).Error("catalog reload rejected, keeping previous catalog")
		return err
	}
	h.Swap(c)
	log.WithFields(log.Fields{"file": h.path, "shops": len(c.Shops)}).Info("catalog reloaded")
	return nil
}
