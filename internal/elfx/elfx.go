// Package elfx provides helpers for opening x86-64 ELF binaries, enumerating
// code and writable memory, and mapping virtual addresses to file bytes.
package elfx

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"sort"
	"syscall"
)

// ErrUnsupported is returned for ELF files that are not 64-bit x86-64.
var ErrUnsupported = errors.New("unsupported binary")

type Image struct {
	Path  string
	File  *elf.File
	All   []byte
	Loads []Seg
	Funcs []Func
	f     *os.File
}

type Seg struct {
	Vaddr, Off, Filesz, Memsz uint64
	Flags                     elf.ProgFlag
}

// Func is a function symbol with a known size.
type Func struct {
	Name string
	Addr uint64
	Size uint64
}

func (s Seg) Executable() bool { return s.Flags&elf.PF_X != 0 }
func (s Seg) Writable() bool   { return s.Flags&elf.PF_W != 0 }

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 {
		f.Close()
		return nil, fmt.Errorf("%s is %s/%s, only ELFCLASS64/EM_X86_64 is handled: %w",
			path, f.Class, f.Machine, ErrUnsupported)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
			Flags:  p.Flags,
		})
	}

	im.loadFunctions()
	return im, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// ExecSegments returns the executable PT_LOAD segments in file order.
func (im *Image) ExecSegments() []Seg {
	var segs []Seg
	for _, l := range im.Loads {
		if l.Executable() && l.Filesz > 0 {
			segs = append(segs, l)
		}
	}
	return segs
}

// LowestWritable returns the start of the lowest-addressed writable PT_LOAD
// segment.
func (im *Image) LowestWritable() (uint64, bool) {
	var best uint64
	found := false
	for _, l := range im.Loads {
		if !l.Writable() || l.Memsz == 0 {
			continue
		}
		if !found || l.Vaddr < best {
			best = l.Vaddr
			found = true
		}
	}
	return best, found
}

// IsExecutable reports whether va lies inside an executable segment.
func (im *Image) IsExecutable(va uint64) bool {
	for _, l := range im.ExecSegments() {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return true
		}
	}
	return false
}

// FuncAt returns the function whose body contains va.
func (im *Image) FuncAt(va uint64) (Func, bool) {
	i := sort.Search(len(im.Funcs), func(i int) bool {
		return im.Funcs[i].Addr+im.Funcs[i].Size > va
	})
	if i < len(im.Funcs) && im.Funcs[i].Addr <= va {
		return im.Funcs[i], true
	}
	return Func{}, false
}

// loadFunctions collects sized STT_FUNC symbols from .symtab and .dynsym
// that point into executable memory, sorted by address.
func (im *Image) loadFunctions() {
	if im.File == nil {
		return
	}

	seen := make(map[uint64]bool)
	add := func(syms []elf.Symbol) {
		for _, sym := range syms {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Section == elf.SHN_UNDEF {
				continue
			}
			if sym.Value == 0 || sym.Size == 0 || seen[sym.Value] {
				continue
			}
			if !im.IsExecutable(sym.Value) {
				continue
			}
			seen[sym.Value] = true
			im.Funcs = append(im.Funcs, Func{Name: sym.Name, Addr: sym.Value, Size: sym.Size})
		}
	}

	// .symtab is missing on stripped binaries; .dynsym still names exports.
	if syms, err := im.File.Symbols(); err == nil {
		add(syms)
	}
	if syms, err := im.File.DynamicSymbols(); err == nil {
		add(syms)
	}

	sort.Slice(im.Funcs, func(i, j int) bool {
		return im.Funcs[i].Addr < im.Funcs[j].Addr
	})
}
