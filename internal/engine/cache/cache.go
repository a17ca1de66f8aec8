package cache

import (
	"encoding/binary"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/crimson-sun/plantpulse/internal/engine/classifier"
)

// Cache memoises classification results by exact feature vector. A nil
// *Cache is valid and never hits.
type Cache struct {
	lru *lru.Cache[string, classifier.Result]
}

// New creates a Cache holding up to size entries. size <= 0 returns nil,
// which disables caching.
func New(size int) (*Cache, error) {
	if size <= 0 {
		return nil, nil
	}
	l, err := lru.New[string, classifier.Result](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the cached result for features, if any.
func (c *Cache) Get(features []float32) (classifier.Result, bool) {
	if c == nil {
		return classifier.Result{}, false
	}
	res, ok := c.lru.Get(key(features))
	if !ok {
		return classifier.Result{}, false
	}
	res.Probabilities = append([]float32(nil), res.Probabilities...)
	return res, true
}

// Add stores a result for features.
func (c *Cache) Add(features []float32, res classifier.Result) {
	if c == nil {
		return
	}
	res.Probabilities = append([]float32(nil), res.Probabilities...)
	c.lru.Add(key(features), res)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// key encodes the exact float bits so -0 and 0 stay distinct.
func key(features []float32) string {
	buf := make([]byte, 4*len(features))
	for i, f := range features {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
