package peheader

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildPE32 assembles a minimal, syntactically valid PE32 image with one
// section holding a COR20 header, enough to exercise EntryPointToken's walk
// without needing a real compiled assembly on disk.
func buildPE32(t *testing.T, entryToken uint32, corFlags uint32) []byte {
	t.Helper()

	const (
		lfanew        = 128
		optHeaderOff  = lfanew + peSignatureSize + fileHeaderSize
		dataDirOff    = optHeaderOff + 96
		sizeOptHeader = 224
		sectionOff    = optHeaderOff + sizeOptHeader
		sectionRVA    = 0x2000
		sectionRaw    = 500
		corOff        = sectionRaw // RVA == VirtualAddress, so offset == PointerToRawData
	)

	buf := make([]byte, corOff+72)

	buf[0], buf[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(buf[60:64], lfanew)

	buf[lfanew], buf[lfanew+1], buf[lfanew+2], buf[lfanew+3] = 'P', 'E', 0, 0

	fileHeader := buf[lfanew+peSignatureSize:]
	binary.LittleEndian.PutUint16(fileHeader[2:4], 1) // NumberOfSections
	binary.LittleEndian.PutUint16(fileHeader[16:18], uint16(sizeOptHeader))

	binary.LittleEndian.PutUint16(buf[optHeaderOff:optHeaderOff+2], optHeaderMagicPE32)
	binary.LittleEndian.PutUint32(buf[dataDirOff+dataDirCOMHeaderIndex*8:], sectionRVA)

	sh := buf[sectionOff : sectionOff+sectionHeaderSize]
	binary.LittleEndian.PutUint32(sh[12:16], sectionRVA)
	binary.LittleEndian.PutUint32(sh[16:20], 200) // SizeOfRawData
	binary.LittleEndian.PutUint32(sh[20:24], sectionRaw)

	cor := buf[corOff : corOff+72]
	binary.LittleEndian.PutUint32(cor[16:20], corFlags)
	binary.LittleEndian.PutUint32(cor[20:24], entryToken)

	return buf
}

func TestEntryPointToken_ManagedEntryPoint(t *testing.T) {
	img := buildPE32(t, 0x06000001, 0x00000001) // ILOnly, no native-entrypoint flag
	tok, err := EntryPointToken(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != 0x06000001 {
		t.Fatalf("got token %#x, want %#x", tok, 0x06000001)
	}
}

func TestEntryPointToken_NativeEntryPointFlag(t *testing.T) {
	img := buildPE32(t, 0x06000001, comImageFlagsNative)
	_, err := EntryPointToken(bytes.NewReader(img))
	if err != ErrNoManagedEntryPoint {
		t.Fatalf("got err %v, want ErrNoManagedEntryPoint", err)
	}
}

func TestEntryPointToken_NotAnImage(t *testing.T) {
	_, err := EntryPointToken(bytes.NewReader(make([]byte, 64)))
	if err != ErrNoManagedEntryPoint {
		t.Fatalf("got err %v, want ErrNoManagedEntryPoint", err)
	}
}
