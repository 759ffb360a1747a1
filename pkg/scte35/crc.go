package scte35

import "encoding/binary"

// MPEG-2 CRC32: polynomial 0x04C11DB7, initial 0xFFFFFFFF,
// no reflection, no final XOR.
var crcTable [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

func crc32MPEG2(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// checkCRC32 reports whether the trailing 4 bytes of data hold the MPEG-2
// CRC32 of the preceding bytes.
func checkCRC32(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	computed := crc32MPEG2(data[:len(data)-4])
	stored := binary.BigEndian.Uint32(data[len(data)-4:])
	return computed == stored
}
