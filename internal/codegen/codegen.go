// Package codegen renders a chain as raw stack values, payload bytes, a
// pwntools exploit script or JSON.
package codegen

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/template"

	"gitlab.com/stephen-fox/brkit/iokit"

	"ropgen/internal/rop"
)

// PaddingByte fills the bytes between the overflowed buffer and the saved
// return address.
const PaddingByte = 0x90

// Values returns the 8-byte stack value of every element.
func Values(chain rop.Chain) []uint64 {
	return chain.Values()
}

// Raw returns offset padding bytes followed by every chain value encoded
// little endian.
func Raw(chain rop.Chain, offset int) []byte {
	pb := iokit.NewPayloadBuilder()
	if offset > 0 {
		pb.RepeatBytes([]byte{PaddingByte}, offset)
	}
	for _, v := range chain.Values() {
		pb.Uint64(v)
	}
	return pb.Build()
}

// WriteValues writes one "0x<value>  ; <label>" line per element.
func WriteValues(w io.Writer, chain rop.Chain) error {
	for _, e := range chain {
		if _, err := fmt.Fprintf(w, "0x%016x  ; %s\n", e.Value, e.Label()); err != nil {
			return err
		}
	}
	return nil
}

var scriptTmpl = template.Must(template.New("pwntools").Parse(`# Code generated by ropgen for python3
from pwn import *

OFFSET_SAVED_RIP={{.Offset}} # To change with the offset you found


payload = b"\x90" * OFFSET_SAVED_RIP
{{- range .Elements}}
payload += p64(0x{{printf "%x" .Value}}) # {{.Label}}
{{- end}}

io = process("./{{.Binary}}")
io.send(payload)
io.interactive()
`))

// WriteScript writes a pwntools script that sends the chain to a fresh
// process of binary after offset bytes of padding.
func WriteScript(w io.Writer, binary string, chain rop.Chain, offset int) error {
	return scriptTmpl.Execute(w, struct {
		Binary   string
		Offset   int
		Elements rop.Chain
	}{
		Binary:   filepath.Base(binary),
		Offset:   offset,
		Elements: chain,
	})
}

// ChainJSON is the JSON form of a chain.
type ChainJSON struct {
	Binary   string        `json:"binary"`
	Writable string        `json:"writable"`
	Elements []ElementJSON `json:"elements"`
}

// ElementJSON is the JSON form of one chain element.
type ElementJSON struct {
	Kind         string   `json:"kind"`
	Value        string   `json:"value"`
	Instructions []string `json:"instructions,omitempty"`
}

// WriteJSON writes the chain as indented JSON.
func WriteJSON(w io.Writer, binary string, writable uint64, chain rop.Chain) error {
	out := ChainJSON{
		Binary:   filepath.Base(binary),
		Writable: fmt.Sprintf("0x%x", writable),
		Elements: make([]ElementJSON, 0, len(chain)),
	}
	for _, e := range chain {
		el := ElementJSON{Kind: "immediate", Value: fmt.Sprintf("0x%x", e.Value)}
		if e.Kind == rop.KindGadget {
			el.Kind = "gadget"
			el.Instructions = e.Gadget.Instructions()
		}
		out.Elements = append(out.Elements, el)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
