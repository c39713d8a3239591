package gadget

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"ropgen/internal/disasm"
)

func TestFindPopRet(t *testing.T) {
	// pop rdi; ret
	gadgets := Find(disasm.Decode([]byte{0x5f, 0xc3}, 0x1000))
	require.Len(t, gadgets, 1)

	g := gadgets[0]
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, uint64(0x1000), g.Addr())
	assert.Equal(t, disasm.ClassRet, g.Insts[0].Class)
	assert.True(t, g.Insts[1].IsPopOf(x86asm.RDI))
	assert.Equal(t, "0x1000: pop rdi ; ret ;", g.String())
}

func TestFindRejectsBareReturn(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"lone ret", []byte{0xc3}},
		{"ret after call", []byte{0xff, 0xd0, 0xc3}},
		{"ret after xor", []byte{0x31, 0xc0, 0xc3}},
		{"no ret", []byte{0x5f, 0x5e}},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, Find(disasm.Decode(tt.code, 0x400000)))
		})
	}
}

func TestFindStopsAtDisallowed(t *testing.T) {
	// pop rsi; xor eax, eax; pop rdx; pop rbx; ret
	code := []byte{0x5e, 0x31, 0xc0, 0x5a, 0x5b, 0xc3}
	gadgets := Find(disasm.Decode(code, 0x3000))
	require.Len(t, gadgets, 1)

	g := gadgets[0]
	require.Equal(t, 3, g.Len())
	assert.Equal(t, uint64(0x3003), g.Addr())
	assert.True(t, g.Insts[1].IsPopOf(x86asm.RBX))
	assert.True(t, g.Insts[2].IsPopOf(x86asm.RDX))
}

func TestFindFarReturn(t *testing.T) {
	// leave; retf
	gadgets := Find(disasm.Decode([]byte{0xc9, 0xcb}, 0x10))
	require.Len(t, gadgets, 1)
	assert.Equal(t, disasm.ClassFarRet, gadgets[0].Insts[0].Class)
	assert.Equal(t, disasm.ClassLeave, gadgets[0].Insts[1].Class)
}

func TestFindAliasesPopR15(t *testing.T) {
	// pop r14; pop r15; ret
	code := []byte{0x41, 0x5e, 0x41, 0x5f, 0xc3}
	gadgets := Find(disasm.Decode(code, 0x401000))
	require.Len(t, gadgets, 2)

	alias := gadgets[0]
	require.Equal(t, 2, alias.Len())
	assert.True(t, alias.Insts[1].IsPopOf(x86asm.RDI))
	assert.Equal(t, uint64(0x401003), alias.Addr(), "pop rdi sits after the one-byte REX prefix")
	assert.Equal(t, []byte{0x5f}, alias.Insts[1].Raw)

	full := gadgets[1]
	require.Equal(t, 3, full.Len())
	assert.Equal(t, uint64(0x401000), full.Addr())
	assert.True(t, full.Insts[1].IsPopOf(x86asm.R15))
	assert.True(t, full.Insts[2].IsPopOf(x86asm.R14))
}

func TestFindAliasKeepsTail(t *testing.T) {
	// pop r15; pop rbp; ret
	code := []byte{0x41, 0x5f, 0x5d, 0xc3}
	gadgets := Find(disasm.Decode(code, 0x500))
	require.Len(t, gadgets, 2)

	alias := gadgets[0]
	require.Equal(t, 3, alias.Len())
	assert.Equal(t, uint64(0x501), alias.Addr())
	assert.Equal(t, []string{"pop rdi", "pop rbp", "ret"}, alias.Instructions())
}

func TestGadgetInvariants(t *testing.T) {
	// A mix of gadget-compatible and incompatible code with several returns.
	code := []byte{
		0x48, 0x89, 0x10, // mov [rax], rdx
		0xc3,             // ret
		0x31, 0xc0,       // xor eax, eax
		0x58,             // pop rax
		0x5b,             // pop rbx
		0xc3,             // ret
		0x0f, 0x05,       // syscall
		0xc3,             // ret
		0x41, 0x5f,       // pop r15
		0xc3,             // ret
		0xc3,             // ret
	}
	gadgets := Find(disasm.Decode(code, 0x7000))
	require.NotEmpty(t, gadgets)

	for _, g := range gadgets {
		assert.GreaterOrEqual(t, g.Len(), MinLen, g.String())
		assert.True(t, g.Insts[0].IsRet(), g.String())
		for _, inst := range g.Insts {
			assert.True(t, disasm.Allowed(inst.Class), g.String())
		}
	}
}

func TestSuffix(t *testing.T) {
	// pop rax; pop rbx; ret
	gadgets := Find(disasm.Decode([]byte{0x58, 0x5b, 0xc3}, 0x2000))
	require.Len(t, gadgets, 1)

	g := gadgets[0]
	s := g.Suffix(1)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, uint64(0x2001), s.Addr())

	s.Insts[0].Text = "mutated"
	assert.Equal(t, "ret", g.Insts[0].Text, "suffix must not share storage with the pool")
}

func TestScanDeterministic(t *testing.T) {
	regions := []Region{
		{Name: "a", VA: 0x1000, Code: []byte{0x5f, 0xc3}},
		{Name: "b", VA: 0x2000, Code: []byte{0x58, 0x5b, 0xc3}},
		{Name: "c", VA: 0x3000, Code: []byte{0x31, 0xc0}},
		{Name: "d", VA: 0x4000, Code: []byte{0x41, 0x5f, 0xc3}},
	}

	first, err := Scan(context.Background(), regions)
	require.NoError(t, err)
	second, err := Scan(context.Background(), regions)
	require.NoError(t, err)

	require.Len(t, first, 4)
	assert.Equal(t, first, second)

	var addrs []uint64
	for _, g := range first {
		addrs = append(addrs, g.Addr())
	}
	assert.Equal(t, []uint64{0x1000, 0x2000, 0x4001, 0x4000}, addrs)
}

func TestScanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Scan(ctx, []Region{{Name: "a", VA: 0x1000, Code: []byte{0x5f, 0xc3}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanEmpty(t *testing.T) {
	pool, err := Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, pool)
}
