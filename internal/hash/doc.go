// Package hash provides the CRC32-Castagnoli checksum used by compiled
// artifacts and S3 uploads.
//
//	sum := hash.CRC32C(payload)
//
//	crc := uint32(0)
//	crc = hash.UpdateCRC32C(crc, chunk1)
//	crc = hash.UpdateCRC32C(crc, chunk2)
//
// Go's crc32 package uses SSE4.2 or the ARM CRC extension when available.
package hash
