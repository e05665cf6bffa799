package bmlite

import (
	"encoding/binary"
	"hash/crc32"
)

// readU16 reads a little-endian uint16 at the start of b.
func readU16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// readU32 reads a little-endian uint32 at the start of b.
func readU32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// putU16 appends v to buf in little-endian order.
func putU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

// putU32 appends v to buf in little-endian order.
func putU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// crc32IEEE computes the standard reflected IEEE 802.3 CRC-32 over b.
func crc32IEEE(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// readUintLE reads a little-endian unsigned integer of up to 4 bytes.
// Response arguments carry their numeric value in however many bytes
// the sensor chose to send (1, 2 or 4), so command handlers decode
// them generically rather than assuming a fixed width.
func readUintLE(b []byte) uint32 {
	var v uint32
	for i, c := range b {
		v |= uint32(c) << (8 * uint(i))
	}
	return v
}
