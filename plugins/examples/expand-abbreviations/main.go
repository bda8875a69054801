//go:build tinygo || wasm

// Example normalizer plugin. Expands abbreviations that trip up token
// generation ("Dr." read as "druh"). Build with tinygo:
//
//	tinygo build -o expand-abbreviations.wasm -target=wasi ./plugins/examples/expand-abbreviations
package main

import (
	"strings"
	"unsafe"

	"github.com/reeflabs/reef-tts/plugins/examples/internal/host"
)

var replacer = strings.NewReplacer(
	"Dr.", "Doctor",
	"Mr.", "Mister",
	"Mrs.", "Missus",
	"St.", "Saint",
	"&", " and ",
	"%", " percent",
)

// Buffers stay global so the runtime can read them after the call returns.
var (
	inputBuf  []byte
	outputBuf []byte
)

//export alloc
func alloc(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	inputBuf = make([]byte, size)
	return uint32(uintptr(unsafe.Pointer(&inputBuf[0])))
}

//export normalize
func normalize(_ uint32, length uint32) uint64 {
	if length == 0 || int(length) > len(inputBuf) {
		return 0
	}
	text := replacer.Replace(string(inputBuf[:length]))
	outputBuf = []byte(text)
	if len(outputBuf) == 0 {
		return 0
	}
	host.Log("normalized " + text)
	ptr := uint64(uintptr(unsafe.Pointer(&outputBuf[0])))
	return ptr<<32 | uint64(len(outputBuf))
}

func main() {}
