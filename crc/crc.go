// Package crc implements the table driven checksums used by the robot link frame:
// CRC8 over the 3 byte frame head, CRC16 over everything before the trailer.
// Both are reflected, no final xor, with non-zero seeds.
package crc

const (
	// reflected 0x31
	CRC8_POLY byte = 0x8c
	CRC8_INIT byte = 0x77
	// reflected 0x1021
	CRC16_POLY uint16 = 0x8408
	CRC16_INIT uint16 = 0x3692
)

var (
	table8  [256]byte
	table16 [256]uint16
)

func init() {
	for i := 0; i < 256; i++ {
		table8[i] = CRC8_reference(0, byte(i))
		c := uint16(i)
		for j := 0; j < 8; j++ {
			if c&1 != 0 {
				c = (c >> 1) ^ CRC16_POLY
			} else {
				c >>= 1
			}
		}
		table16[i] = c
	}
}

// Bitwise, used to build table and in tests.
func CRC8_reference(crc, data byte) byte {
	crc ^= data
	for i := 0; i < 8; i++ {
		if crc&1 != 0 {
			crc = (crc >> 1) ^ CRC8_POLY
		} else {
			crc >>= 1
		}
	}
	return crc
}

func CRC8_next(crc, data byte) byte { return table8[crc^data] }

func CRC8_n(crc byte, data []byte) byte {
	for _, b := range data {
		crc = table8[crc^b]
	}
	return crc
}

// CRC8 with frame seed.
func CRC8(data []byte) byte { return CRC8_n(CRC8_INIT, data) }

func CRC16_n(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = (crc >> 8) ^ table16[byte(crc)^b]
	}
	return crc
}

// CRC16 with frame seed.
func CRC16(data []byte) uint16 { return CRC16_n(CRC16_INIT, data) }
