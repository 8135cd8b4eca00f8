package mem

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// PageSize is the translation granule cached by the TLB.
const PageSize = 4096

const pageMask = PageSize - 1

// TLBConfig holds TLB geometry.
type TLBConfig struct {
	// Sets is the number of sets.
	Sets int `json:"sets" yaml:"sets"`
	// Ways is the associativity.
	Ways int `json:"ways" yaml:"ways"`
}

// DefaultTLBConfig returns a 64-entry, 4-way TLB.
func DefaultTLBConfig() TLBConfig {
	return TLBConfig{Sets: 16, Ways: 4}
}

// TLBStats holds TLB statistics.
type TLBStats struct {
	Lookups       uint64
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
}

// pageInfo is the result of a page walk at 4 KiB granularity. The
// permission bits are the combination over every level of the walk.
type pageInfo struct {
	frame    uint64 // physical base of the 4 KiB page
	writable bool
	user     bool
	noExec   bool
}

// TLB caches page walks in an Akita cache directory. Tags are 4 KiB-aligned
// linear addresses; the payload for each block lives in a parallel slice
// indexed by set and way.
type TLB struct {
	config    TLBConfig
	directory *akitacache.DirectoryImpl
	entries   []pageInfo
	stats     TLBStats
}

// NewTLB creates an empty TLB.
func NewTLB(config TLBConfig) *TLB {
	if config.Sets <= 0 || config.Ways <= 0 {
		config = DefaultTLBConfig()
	}

	return &TLB{
		config: config,
		directory: akitacache.NewDirectory(
			config.Sets,
			config.Ways,
			PageSize,
			akitacache.NewLRUVictimFinder(),
		),
		entries: make([]pageInfo, config.Sets*config.Ways),
	}
}

// Config returns the TLB geometry.
func (t *TLB) Config() TLBConfig {
	return t.config
}

// Stats returns TLB statistics.
func (t *TLB) Stats() TLBStats {
	return t.stats
}

func (t *TLB) blockIndex(block *akitacache.Block) int {
	return block.SetID*t.config.Ways + block.WayID
}

func (t *TLB) lookup(linear uint64) (pageInfo, bool) {
	t.stats.Lookups++

	block := t.directory.Lookup(0, linear&^pageMask)
	if block == nil || !block.IsValid {
		t.stats.Misses++
		return pageInfo{}, false
	}

	t.stats.Hits++
	t.directory.Visit(block)
	return t.entries[t.blockIndex(block)], true
}

func (t *TLB) insert(linear uint64, info pageInfo) {
	page := linear &^ pageMask

	victim := t.directory.FindVictim(page)
	if victim == nil {
		return
	}
	if victim.IsValid {
		t.stats.Evictions++
	}

	victim.Tag = page
	victim.IsValid = true
	victim.IsDirty = false
	t.entries[t.blockIndex(victim)] = info
	t.directory.Visit(victim)
}

// Invalidate drops the entry for the page containing linear, if cached.
func (t *TLB) Invalidate(linear uint64) {
	block := t.directory.Lookup(0, linear&^pageMask)
	if block != nil && block.IsValid {
		block.IsValid = false
		t.stats.Invalidations++
	}
}

// Flush drops every entry.
func (t *TLB) Flush() {
	for _, set := range t.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid {
				t.stats.Invalidations++
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
}
