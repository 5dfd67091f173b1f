package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))
	assert.Equal(t, uint32(0), CRC32C(nil))

	crc := UpdateCRC32C(0, []byte("1234"))
	crc = UpdateCRC32C(crc, []byte("56789"))
	assert.Equal(t, CRC32C([]byte("123456789")), crc)
}
