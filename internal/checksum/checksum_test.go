package checksum

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// Verifies that zeroing a buffer's checksum field, installing the computed
// checksum, and re-running the checksum over the full buffer yields zero.
func TestInternet_SelfVerifies(t *testing.T) {
	t.Parallel()
	cases := [][]byte{
		{0x45, 0x00, 0x00, 0x1c, 0x1c, 0x46, 0x40, 0x00, 0x40, 0x01},
		{0x08, 0x00, 0x00, 0x00, 0x12, 0x34, 0x00, 0x01, 1, 2, 3, 4, 5},
		{0x08, 0x00, 0x00, 0x00, 0x12, 0x34, 0x00, 0x01, 1, 2, 3, 4, 5, 6, 7},
	}
	for _, c := range cases {
		buf := append([]byte(nil), c...)
		binary.BigEndian.PutUint16(buf[2:4], 0)
		sum := Internet(buf)
		binary.BigEndian.PutUint16(buf[2:4], sum)
		require.Zero(t, Internet(buf))
	}
}

// Odd-length buffers contribute their final byte unshifted, not as the high
// byte of a trailing word.
func TestInternet_OddLength(t *testing.T) {
	t.Parallel()
	odd := []byte{0x01, 0x02, 0x03}
	// 0x0102 (first word) + 0x03 (trailing byte, unshifted) = 0x0105.
	want := ^uint16(0x0105)
	require.Equal(t, want, Internet(odd))
}

func TestInternet_Empty(t *testing.T) {
	t.Parallel()
	require.Equal(t, uint16(0xffff), Internet(nil))
}
