package patch

import "encoding/binary"

// buildELFFixture constructs a minimal, valid 64-bit little-endian ELF
// image carrying exactly one PROGBITS section named ".pgconf", sized
// sectionSize and initialized with content (zero-padded if shorter).
// It exists only to exercise locateELF/Read/Write without needing a real
// compiled test binary on disk.
func buildELFFixture(sectionSize int, content []byte) []byte {
	if len(content) > sectionSize {
		panic("content larger than sectionSize")
	}

	const ehsize = 64
	const shentsize = 64

	pgconfOff := int64(ehsize)
	shstrtab := append([]byte{0x00}, []byte(".pgconf\x00.shstrtab\x00")...)
	shstrtabOff := pgconfOff + int64(sectionSize)
	shOff := shstrtabOff + int64(len(shstrtab))

	buf := make([]byte, shOff+3*shentsize)

	// e_ident
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:18], 2)  // e_type = ET_EXEC
	le.PutUint16(buf[18:20], 62) // e_machine = EM_X86_64
	le.PutUint32(buf[20:24], 1)  // e_version
	// e_entry, e_phoff left zero
	le.PutUint64(buf[40:48], uint64(shOff)) // e_shoff
	le.PutUint16(buf[52:54], ehsize)        // e_ehsize
	le.PutUint16(buf[58:60], shentsize)     // e_shentsize
	le.PutUint16(buf[60:62], 3)             // e_shnum
	le.PutUint16(buf[62:64], 2)             // e_shstrndx

	// section content
	copy(buf[pgconfOff:pgconfOff+int64(sectionSize)], content)
	copy(buf[shstrtabOff:], shstrtab)

	writeShdr := func(idx int, nameOff uint32, typ uint32, offset, size int64) {
		base := shOff + int64(idx)*shentsize
		le.PutUint32(buf[base:base+4], nameOff)
		le.PutUint32(buf[base+4:base+8], typ)
		le.PutUint64(buf[base+24:base+32], uint64(offset))
		le.PutUint64(buf[base+32:base+40], uint64(size))
	}

	writeShdr(0, 0, 0, 0, 0)                              // SHT_NULL
	writeShdr(1, 1, 1, pgconfOff, int64(sectionSize))     // SHT_PROGBITS ".pgconf"
	writeShdr(2, 9, 3, shstrtabOff, int64(len(shstrtab))) // SHT_STRTAB ".shstrtab"

	return buf
}

// buildELFFixtureNoSection builds a minimal valid ELF image with only the
// mandatory NULL and .shstrtab sections, carrying no ".pgconf" section at
// all, to exercise the section-not-found path.
func buildELFFixtureNoSection(shstrtab []byte) []byte {
	const ehsize = 64
	const shentsize = 64

	shstrtabOff := int64(ehsize)
	shOff := shstrtabOff + int64(len(shstrtab))

	buf := make([]byte, shOff+2*shentsize)

	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2
	buf[5] = 1
	buf[6] = 1

	le := binary.LittleEndian
	le.PutUint16(buf[16:18], 2)
	le.PutUint16(buf[18:20], 62)
	le.PutUint32(buf[20:24], 1)
	le.PutUint64(buf[40:48], uint64(shOff))
	le.PutUint16(buf[52:54], ehsize)
	le.PutUint16(buf[58:60], shentsize)
	le.PutUint16(buf[60:62], 2)
	le.PutUint16(buf[62:64], 1)

	copy(buf[shstrtabOff:], shstrtab)

	writeShdr := func(idx int, nameOff uint32, typ uint32, offset, size int64) {
		base := shOff + int64(idx)*shentsize
		le.PutUint32(buf[base:base+4], nameOff)
		le.PutUint32(buf[base+4:base+8], typ)
		le.PutUint64(buf[base+24:base+32], uint64(offset))
		le.PutUint64(buf[base+32:base+40], uint64(size))
	}

	writeShdr(0, 0, 0, 0, 0)
	writeShdr(1, 1, 3, shstrtabOff, int64(len(shstrtab)))

	return buf
}
