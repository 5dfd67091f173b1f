package hash

import "hash/crc32"

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// UpdateCRC32C extends crc with the bytes of p.
func UpdateCRC32C(crc uint32, p []byte) uint32 {
	return crc32.Update(crc, crc32cTable, p)
}
