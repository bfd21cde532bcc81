// Copyright 2022 The Armored Witness OS authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"bytes"
	"debug/elf"
	"debug/gosym"
	"errors"
	"fmt"
	"sort"
)

// ErrNoSymbols is returned for images without a symbol table.
var ErrNoSymbols = errors.New("no symbols")

func symbols(buf []byte) (syms []elf.Symbol, err error) {
	exe, err := elf.NewFile(bytes.NewReader(buf))

	if err != nil {
		return
	}

	if syms, err = exe.Symbols(); errors.Is(err, elf.ErrNoSymbols) {
		return nil, ErrNoSymbols
	}

	return
}

// LookupSym returns the named symbol of an ELF image.
func LookupSym(buf []byte, name string) (*elf.Symbol, error) {
	syms, err := symbols(buf)

	if err != nil {
		return nil, err
	}

	for _, sym := range syms {
		if sym.Name == name {
			return &sym, nil
		}
	}

	return nil, errors.New("symbol not found")
}

// SymbolAt returns the function or object symbol covering addr, as
// "name+offset", it is used to decode entry points and fault addresses.
func SymbolAt(buf []byte, addr uint64) (s string, err error) {
	syms, err := symbols(buf)

	if err != nil {
		return
	}

	sort.Slice(syms, func(i, j int) bool {
		return syms[i].Value < syms[j].Value
	})

	var best *elf.Symbol

	for i, sym := range syms {
		switch elf.ST_TYPE(sym.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
		default:
			continue
		}

		if sym.Name == "" || sym.Value > addr {
			continue
		}

		if sym.Size != 0 && addr-sym.Value >= sym.Size {
			continue
		}

		best = &syms[i]
	}

	if best == nil {
		return "", fmt.Errorf("no symbol at %#x", addr)
	}

	if off := addr - best.Value; off != 0 {
		return fmt.Sprintf("%s+%#x", best.Name, off), nil
	}

	return best.Name, nil
}

func goSymTable(buf []byte) (symTable *gosym.Table, err error) {
	exe, err := elf.NewFile(bytes.NewReader(buf))

	if err != nil {
		return
	}

	text := exe.Section(".text")
	pcln := exe.Section(".gopclntab")

	if text == nil || pcln == nil {
		return nil, ErrNoSymbols
	}

	lineTableData, err := pcln.Data()

	if err != nil {
		return
	}

	lineTable := gosym.NewLineTable(lineTableData, text.Addr)

	var symTableData []byte

	if s := exe.Section(".gosymtab"); s != nil {
		if symTableData, err = s.Data(); err != nil {
			return
		}
	}

	return gosym.NewTable(symTableData, lineTable)
}

// PCToLine returns the source location of a program counter within a Go
// ELF image.
func PCToLine(buf []byte, pc uint64) (s string, err error) {
	symTable, err := goSymTable(buf)

	if err != nil {
		return
	}

	file, line, fn := symTable.PCToLine(pc)

	if fn == nil {
		return "", fmt.Errorf("no function at %#x", pc)
	}

	return fmt.Sprintf("%s:%d", file, line), nil
}
