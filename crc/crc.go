// Package crc implements the frame checksum shared by sensor and HMI nodes.
// Standard CRC-32 (IEEE 802.3): reflected poly 0xEDB88320, init 0xFFFFFFFF, xorout 0xFFFFFFFF.
package crc

import "hash/crc32"

const (
	CRC32_POLY     uint32 = 0xEDB88320
	CRC32_INIT     uint32 = 0xFFFFFFFF
	CRC32_XOR_OUT  uint32 = 0xFFFFFFFF
	CRC32_CHECKVAL uint32 = 0xCBF43926 // CRC32("123456789")
)

func CRC32(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// CRC32_next continues checksum over more data, crc is previous CRC32 result (0 for empty).
func CRC32_next(crc uint32, b []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, b)
}
