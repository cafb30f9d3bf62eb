// Package bcache is a fixed-size write-back cache of disk sectors with
// clock replacement, asynchronous read-ahead and a periodic flush worker.
package bcache

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"wafer/bdev"
	"wafer/defs"
)

/// NENTRIES is the number of cache entries.
const NENTRIES = 64

/// FLUSHINTERVAL is how long the flush-back worker sleeps between passes.
const FLUSHINTERVAL = 500 * time.Millisecond

type centry_t struct {
	inuse    bool
	sector   defs.Sector_t
	dirty    bool
	accessed bool
	data     bdev.Sectordata_t
}

/// Cache_t caches sector-sized blocks of a single disk. One mutex guards
/// the entries and the clock cursor; the read-ahead queue has its own.
type Cache_t struct {
	sync.Mutex
	disk    bdev.Disk_i
	entries [NENTRIES]centry_t
	pos     int

	ralock  sync.Mutex
	raqueue []defs.Sector_t
	rasema  *semaphore.Weighted

	cancel context.CancelFunc
	done   sync.WaitGroup
}

/// MkCache creates a cache over disk and starts the flush-back and
/// read-ahead workers.
func MkCache(disk bdev.Disk_i) *Cache_t {
	c := &Cache_t{}
	c.disk = disk
	c.rasema = semaphore.NewWeighted(math.MaxInt64)
	// drain so the semaphore counts queued requests from zero
	if !c.rasema.TryAcquire(math.MaxInt64) {
		panic("fresh semaphore must be acquirable")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done.Add(2)
	go c.flusher(ctx)
	go c.reader(ctx)
	return c
}

/// Stop terminates the workers and flushes all dirty entries.
func (c *Cache_t) Stop() {
	c.cancel()
	c.done.Wait()
	c.Flush_all()
}

func (c *Cache_t) flusher(ctx context.Context) {
	defer c.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(FLUSHINTERVAL):
			c.Flush_all()
		}
	}
}

func (c *Cache_t) reader(ctx context.Context) {
	defer c.done.Done()
	for {
		if err := c.rasema.Acquire(ctx, 1); err != nil {
			return
		}
		c.ralock.Lock()
		sector := c.raqueue[0]
		c.raqueue = c.raqueue[1:]
		c.ralock.Unlock()

		c.Lock()
		c.fetch(sector, true)
		c.Unlock()
	}
}

// find returns the entry caching sector, or nil.
func (c *Cache_t) find(sector defs.Sector_t) *centry_t {
	for i := range c.entries {
		e := &c.entries[i]
		if e.inuse && e.sector == sector {
			return e
		}
	}
	return nil
}

// getempty returns an unused entry, or nil if every entry is in use.
func (c *Cache_t) getempty() *centry_t {
	for i := range c.entries {
		if !c.entries[i].inuse {
			return &c.entries[i]
		}
	}
	return nil
}

// toevict picks a victim with the clock algorithm. The cursor advances
// past the victim.
func (c *Cache_t) toevict() *centry_t {
	for {
		e := &c.entries[c.pos]
		c.pos = (c.pos + 1) % NENTRIES
		if !e.accessed {
			return e
		}
		e.accessed = false
	}
}

// fetch returns the entry caching sector, materializing one on a miss.
// When read is false the entry's bytes are unspecified until the caller
// overwrites them. Caller holds the cache mutex.
func (c *Cache_t) fetch(sector defs.Sector_t, read bool) *centry_t {
	e := c.find(sector)
	if e == nil {
		e = c.getempty()
		if e == nil {
			e = c.toevict()
			if e.dirty {
				c.disk.Write_sector(e.sector, &e.data)
			}
		}
		if read {
			c.disk.Read_sector(sector, &e.data)
			e.dirty = false
		}
		e.sector = sector
		e.inuse = true
	}
	return e
}

/// Read copies the entire sector into dst.
func (c *Cache_t) Read(sector defs.Sector_t, dst []uint8) {
	c.Copy_out(sector, dst, 0, defs.SECTSIZE)
}

/// Copy_out copies bytes [offset, offset+size) of the sector into dst.
func (c *Cache_t) Copy_out(sector defs.Sector_t, dst []uint8, offset, size int) {
	c.Lock()
	defer c.Unlock()

	e := c.fetch(sector, true)
	copy(dst[:size], e.data[offset:offset+size])
	e.accessed = true
}

/// Write overwrites the entire cached sector from src. The disk read is
/// skipped since every byte is replaced.
func (c *Cache_t) Write(sector defs.Sector_t, src []uint8) {
	c.Copy_in(sector, src, 0, defs.SECTSIZE)
}

/// Copy_in overwrites bytes [offset, offset+size) of the cached sector
/// from src.
func (c *Cache_t) Copy_in(sector defs.Sector_t, src []uint8, offset, size int) {
	c.Lock()
	defer c.Unlock()

	whole := offset == 0 && size == defs.SECTSIZE
	e := c.fetch(sector, !whole)
	copy(e.data[offset:offset+size], src[:size])
	e.accessed = true
	e.dirty = true
}

/// Invalidate flushes the entry for sector if dirty and clears it.
func (c *Cache_t) Invalidate(sector defs.Sector_t) {
	c.Lock()
	defer c.Unlock()

	e := c.find(sector)
	if e == nil {
		return
	}
	if e.dirty {
		c.disk.Write_sector(e.sector, &e.data)
	}
	e.inuse = false
}

/// Read_ahead enqueues an asynchronous prefetch of sector.
func (c *Cache_t) Read_ahead(sector defs.Sector_t) {
	c.ralock.Lock()
	c.raqueue = append(c.raqueue, sector)
	c.ralock.Unlock()
	c.rasema.Release(1)
}

/// Flush_all writes every dirty entry to disk.
func (c *Cache_t) Flush_all() {
	c.Lock()
	defer c.Unlock()

	for i := range c.entries {
		e := &c.entries[i]
		if e.inuse && e.dirty {
			c.disk.Write_sector(e.sector, &e.data)
			e.dirty = false
		}
	}
}
