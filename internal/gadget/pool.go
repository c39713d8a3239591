package gadget

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"ropgen/internal/disasm"
)

// Pool is the read-only collection of gadgets discovered in one binary.
type Pool []Gadget

// Region is a contiguous run of code scanned independently, typically one
// function body or one executable segment.
type Region struct {
	Name string
	VA   uint64
	Code []byte
}

// Scan decodes every region and collects its gadgets. Regions are scanned
// concurrently; the resulting pool keeps region order so repeated scans of
// the same input produce identical pools.
func Scan(ctx context.Context, regions []Region) (Pool, error) {
	results := make([][]Gadget, len(regions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, region := range regions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = Find(disasm.Decode(region.Code, region.VA))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pool Pool
	for i, found := range results {
		if len(found) > 0 {
			slog.Debug("Scanned region", "region", regions[i].Name, "va", regions[i].VA, "gadgets", len(found))
		}
		pool = append(pool, found...)
	}
	return pool, nil
}

// FindFunc returns the index of the first gadget matching fn, or -1.
func (p Pool) FindFunc(fn func(Gadget) bool) int {
	for i, g := range p {
		if fn(g) {
			return i
		}
	}
	return -1
}
