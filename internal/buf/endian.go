// Package buf contains endian and bounds helpers for on-media records.
package buf

import "encoding/binary"

// U16LE reads a little-endian uint16 from b. Returns 0 when b is too short.
func U16LE(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// U32LE reads a little-endian uint32 from b. Returns 0 when b is too short.
func U32LE(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U16BE reads a big-endian uint16 from b. Returns 0 when b is too short.
func U16BE(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// U32BE reads a big-endian uint32 from b. Returns 0 when b is too short.
func U32BE(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// PutU16LE writes v little-endian into b. It is a no-op when b is too short.
func PutU16LE(b []byte, v uint16) {
	if len(b) >= 2 {
		binary.LittleEndian.PutUint16(b, v)
	}
}

// PutU32LE writes v little-endian into b. It is a no-op when b is too short.
func PutU32LE(b []byte, v uint32) {
	if len(b) >= 4 {
		binary.LittleEndian.PutUint32(b, v)
	}
}

// PutU16BE writes v big-endian into b. It is a no-op when b is too short.
func PutU16BE(b []byte, v uint16) {
	if len(b) >= 2 {
		binary.BigEndian.PutUint16(b, v)
	}
}

// PutU32BE writes v big-endian into b. It is a no-op when b is too short.
func PutU32BE(b []byte, v uint32) {
	if len(b) >= 4 {
		binary.BigEndian.PutUint32(b, v)
	}
}
