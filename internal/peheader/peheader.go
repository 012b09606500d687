// Package peheader implements the small binary-format reader §4.3
// "Entry-point discovery" needs: walk a PE/COFF image's DOS header, NT
// header (32- or 64-bit optional header), section table, and COM descriptor
// to recover the CLR entry-point method token. Grounded on
// original_source's breakpoints.cpp GetEntryPointTokenFromFile, which this
// package mirrors field-for-field.
package peheader

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrNoManagedEntryPoint is returned when the image has no COM descriptor,
// flags a native entry point, or the header magic doesn't validate — the
// original's single mdMethodDefNil return covers all three; this package
// preserves that (design note §9: "does not handle the native-entrypoint
// flag distinctly from a missing entry; specification preserves this
// behavior").
var ErrNoManagedEntryPoint = errors.New("peheader: no managed entry point")

const (
	dosHeaderSize        = 64
	peSignatureSize       = 4
	fileHeaderSize        = 20
	optHeaderMagicPE32    = 0x10b
	optHeaderMagicPE32p   = 0x20b
	dataDirCOMHeaderIndex = 14
	sectionHeaderSize     = 40
	comImageFlagsNative   = 0x00000010
)

// EntryPointToken parses r (a full PE image) and returns the managed
// EntryPointToken from the CLR header, or ErrNoManagedEntryPoint when the
// image carries no managed entry point (native entry-point flag set, or no
// COM descriptor present).
func EntryPointToken(r io.ReaderAt) (uint32, error) {
	dos := make([]byte, dosHeaderSize)
	if _, err := r.ReadAt(dos, 0); err != nil {
		return 0, err
	}
	if dos[0] != 'M' || dos[1] != 'Z' {
		return 0, ErrNoManagedEntryPoint
	}
	lfanew := int64(binary.LittleEndian.Uint32(dos[60:64]))

	sig := make([]byte, peSignatureSize)
	if _, err := r.ReadAt(sig, lfanew); err != nil {
		return 0, err
	}
	if sig[0] != 'P' || sig[1] != 'E' || sig[2] != 0 || sig[3] != 0 {
		return 0, ErrNoManagedEntryPoint
	}

	fileHeader := make([]byte, fileHeaderSize)
	if _, err := r.ReadAt(fileHeader, lfanew+peSignatureSize); err != nil {
		return 0, err
	}
	numSections := binary.LittleEndian.Uint16(fileHeader[2:4])
	sizeOfOptionalHeader := binary.LittleEndian.Uint16(fileHeader[16:18])

	optHeaderOff := lfanew + peSignatureSize + fileHeaderSize
	magicBuf := make([]byte, 2)
	if _, err := r.ReadAt(magicBuf, optHeaderOff); err != nil {
		return 0, err
	}
	magic := binary.LittleEndian.Uint16(magicBuf)

	var corRVA uint32
	switch magic {
	case optHeaderMagicPE32:
		// IMAGE_OPTIONAL_HEADER32: DataDirectory array starts at offset 96.
		corRVA = readDataDirRVA(r, optHeaderOff+96, dataDirCOMHeaderIndex)
	case optHeaderMagicPE32p:
		// IMAGE_OPTIONAL_HEADER64: DataDirectory array starts at offset 112.
		corRVA = readDataDirRVA(r, optHeaderOff+112, dataDirCOMHeaderIndex)
	default:
		return 0, ErrNoManagedEntryPoint
	}
	if corRVA == 0 {
		return 0, ErrNoManagedEntryPoint
	}

	sectionTableOff := optHeaderOff + int64(sizeOfOptionalHeader)
	for i := 0; i < int(numSections); i++ {
		sh := make([]byte, sectionHeaderSize)
		if _, err := r.ReadAt(sh, sectionTableOff+int64(i)*sectionHeaderSize); err != nil {
			return 0, err
		}
		virtualAddress := binary.LittleEndian.Uint32(sh[12:16])
		sizeOfRawData := binary.LittleEndian.Uint32(sh[16:20])
		pointerToRawData := binary.LittleEndian.Uint32(sh[20:24])

		if corRVA >= virtualAddress && corRVA < virtualAddress+sizeOfRawData {
			offset := int64(corRVA-virtualAddress) + int64(pointerToRawData)
			cor := make([]byte, 72) // IMAGE_COR20_HEADER
			if _, err := r.ReadAt(cor, offset); err != nil {
				return 0, err
			}
			flags := binary.LittleEndian.Uint32(cor[16:20])
			entryPointToken := binary.LittleEndian.Uint32(cor[20:24])
			if flags&comImageFlagsNative != 0 {
				return 0, ErrNoManagedEntryPoint
			}
			return entryPointToken, nil
		}
	}
	return 0, ErrNoManagedEntryPoint
}

func readDataDirRVA(r io.ReaderAt, dataDirOff int64, index int) uint32 {
	entry := make([]byte, 8)
	if _, err := r.ReadAt(entry, dataDirOff+int64(index)*8); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(entry[0:4])
}
