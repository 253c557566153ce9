package entities

import "sort"

// InstructionSize is the size of one eBPF instruction slot in bytes.
const InstructionSize = 8

// Image is a linked wBPF program ready to be loaded onto a processing element.
// Code holds little-endian eBPF instruction slots; Data is the initial data
// image copied to Platform.DataOffset when an instance is created.
type Image struct {
	OffsetTable *OffsetTable   `json:"offsetTable,omitempty"`
	Machine     *TargetMachine `json:"machine,omitempty"`
	Platform    *HostPlatform  `json:"platform,omitempty"`
	Code        []byte         `json:"code"`
	Data        []byte         `json:"data,omitempty"`
}

// OffsetTable maps symbol names to their location in the image.
type OffsetTable struct {
	// FuncOffsets maps a function name to its byte offset in Code.
	FuncOffsets map[string]int32 `json:"funcOffsets"`

	// DataSymbols maps a data symbol to its absolute address in data memory.
	DataSymbols map[string]DataSymbol `json:"dataSymbols,omitempty"`
}

// DataSymbol locates a data object in data memory.
type DataSymbol struct {
	Offset uint32 `json:"offset"`
	Size   uint32 `json:"size"`
}

// TargetMachine describes helpers implemented by the processing element itself.
type TargetMachine struct {
	Helpers map[string]int32 `json:"helpers,omitempty" yaml:"helpers,omitempty"`
}

// HostPlatform describes the environment a program is linked against: the
// helper index of every host function and where the data image is placed.
type HostPlatform struct {
	Helpers    map[string]int32 `json:"helpers,omitempty" yaml:"helpers,omitempty" validate:"dive,keys,required,endkeys,gt=0"`
	DataOffset uint32           `json:"dataOffset" yaml:"data_offset"`
}

// Function returns the byte offset of the named function.
func (img *Image) Function(name string) (int32, bool) {
	if img == nil || img.OffsetTable == nil {
		return 0, false
	}
	off, ok := img.OffsetTable.FuncOffsets[name]
	return off, ok
}

// Symbol returns the named data symbol.
func (img *Image) Symbol(name string) (DataSymbol, bool) {
	if img == nil || img.OffsetTable == nil {
		return DataSymbol{}, false
	}
	sym, ok := img.OffsetTable.DataSymbols[name]
	return sym, ok
}

// Functions returns all function names ordered by offset.
func (img *Image) Functions() []string {
	if img == nil || img.OffsetTable == nil {
		return nil
	}
	names := make([]string, 0, len(img.OffsetTable.FuncOffsets))
	for name := range img.OffsetTable.FuncOffsets {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		oi, oj := img.OffsetTable.FuncOffsets[names[i]], img.OffsetTable.FuncOffsets[names[j]]
		if oi != oj {
			return oi < oj
		}
		return names[i] < names[j]
	})
	return names
}

// HelperName resolves a helper index back to its name, searching the
// platform first and then the machine.
func (img *Image) HelperName(index int32) (string, bool) {
	if img == nil {
		return "", false
	}
	if img.Platform != nil {
		for name, idx := range img.Platform.Helpers {
			if idx == index {
				return name, true
			}
		}
	}
	if img.Machine != nil {
		for name, idx := range img.Machine.Helpers {
			if idx == index {
				return name, true
			}
		}
	}
	return "", false
}

// DataOffset returns where the data image is placed, zero without a platform.
func (img *Image) DataOffset() uint32 {
	if img == nil || img.Platform == nil {
		return 0
	}
	return img.Platform.DataOffset
}
