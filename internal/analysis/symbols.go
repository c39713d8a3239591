// Package analysis bridges a loaded ELF image and gadget discovery: it
// splits executable memory into scan regions and labels gadget addresses
// with the demangled function that contains them.
package analysis

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ianlancetaylor/demangle"

	"ropgen/internal/elfx"
	"ropgen/internal/gadget"
)

type demangleCache struct {
	mu    sync.RWMutex
	names map[string]string
	hits  atomic.Int64
}

var cache = &demangleCache{names: make(map[string]string)}

// CachedDemangle demangles a C++ or Rust symbol name, returning it unchanged
// when it is not mangled. Results are memoized.
func CachedDemangle(mangled string) string {
	cache.mu.RLock()
	if cached, ok := cache.names[mangled]; ok {
		cache.mu.RUnlock()
		cache.hits.Add(1)
		return cached
	}
	cache.mu.RUnlock()

	demangled := demangle.Filter(mangled, demangle.NoClones)

	cache.mu.Lock()
	cache.names[mangled] = demangled
	cache.mu.Unlock()
	return demangled
}

// DemangleCacheStats returns the number of cached names and cache hits.
func DemangleCacheStats() (names, hits int) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	return len(cache.names), int(cache.hits.Load())
}

// Regions returns one scan region per function symbol plus one per stretch
// of executable segment no function covers, ordered by address. Stripped
// binaries therefore get their executable segments whole.
func Regions(im *elfx.Image) []gadget.Region {
	var funcs []gadget.Region
	for _, fn := range im.Funcs {
		code, ok := im.SliceVA(fn.Addr, fn.Size)
		if !ok {
			slog.Debug("Function body outside file", "func", fn.Name, "va", fmt.Sprintf("0x%x", fn.Addr))
			continue
		}
		funcs = append(funcs, gadget.Region{Name: fn.Name, VA: fn.Addr, Code: code})
	}

	regions := slices.Clone(funcs)
	for _, seg := range im.ExecSegments() {
		regions = append(regions, uncovered(im, seg, funcs)...)
	}
	slices.SortStableFunc(regions, func(a, b gadget.Region) int {
		return cmp.Compare(a.VA, b.VA)
	})
	return regions
}

// uncovered returns the parts of seg outside every region in funcs, which
// must be sorted by address.
func uncovered(im *elfx.Image, seg elfx.Seg, funcs []gadget.Region) []gadget.Region {
	var gaps []gadget.Region
	add := func(from, to uint64) {
		if from >= to {
			return
		}
		code, ok := im.SliceVA(from, to-from)
		if !ok {
			return
		}
		gaps = append(gaps, gadget.Region{
			Name: fmt.Sprintf("segment@0x%x", from),
			VA:   from,
			Code: code,
		})
	}

	cur, end := seg.Vaddr, seg.Vaddr+seg.Filesz
	for _, fn := range funcs {
		fnEnd := fn.VA + uint64(len(fn.Code))
		if fnEnd <= cur || fn.VA >= end {
			continue
		}
		add(cur, fn.VA)
		cur = max(cur, fnEnd)
	}
	add(cur, end)
	return gaps
}

// FuncLabel returns "name+0xoff" for the demangled function containing va,
// or "" when no function symbol covers it.
func FuncLabel(im *elfx.Image, va uint64) string {
	fn, ok := im.FuncAt(va)
	if !ok {
		return ""
	}
	name := CachedDemangle(fn.Name)
	if off := va - fn.Addr; off != 0 {
		return fmt.Sprintf("%s+0x%x", name, off)
	}
	return name
}
