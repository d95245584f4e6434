package wire

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	t.Run("scalar fields", func(t *testing.T) {
		w := NewWriter()
		w.Byte(7)
		w.Uint32(0xdeadbeef)
		w.Bool(true)
		w.Bool(false)
		w.String([]byte("hello"))
		w.Text("world")
		w.NameList([]string{"aes256-ctr", "none"})

		r := NewReader(w.Bytes())
		assert.Equal(t, byte(7), r.Byte())
		assert.Equal(t, uint32(0xdeadbeef), r.Uint32())
		assert.True(t, r.Bool())
		assert.False(t, r.Bool())
		assert.Equal(t, []byte("hello"), r.String())
		assert.Equal(t, "world", r.Text())
		assert.Equal(t, []string{"aes256-ctr", "none"}, r.NameList())
		require.NoError(t, r.Err())
	})

	t.Run("empty name-list", func(t *testing.T) {
		w := NewWriter()
		w.NameList(nil)
		r := NewReader(w.Bytes())
		assert.Empty(t, r.NameList())
		require.NoError(t, r.Err())
	})

	t.Run("raw and remaining", func(t *testing.T) {
		w := NewWriter()
		w.Raw([]byte{1, 2, 3, 4})
		w.Raw([]byte{5, 6})
		r := NewReader(w.Bytes())
		assert.Equal(t, []byte{1, 2, 3, 4}, r.Raw(4))
		assert.Equal(t, []byte{5, 6}, r.Remaining())
		require.NoError(t, r.Err())
	})
}

func TestReaderStickyError(t *testing.T) {
	// A reader that runs out of bytes mid-field should report an error on
	// the failing call and on every call after it, not panic.
	r := NewReader([]byte{0, 0, 0, 2, 'h'}) // string length 2, only 1 byte follows
	got := r.String()
	assert.Nil(t, got)
	require.Error(t, r.Err())

	// Further reads must not panic and must keep returning the same error.
	assert.Equal(t, byte(0), r.Byte())
	assert.Error(t, r.Err())
}

func TestMPIntEncoding(t *testing.T) {
	t.Run("small positive value needs no leading zero", func(t *testing.T) {
		got := EncodeMPInt(big.NewInt(0x09a378))
		assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x03, 0x09, 0xa3, 0x78}, got)
	})

	t.Run("high bit set gets a padding zero byte", func(t *testing.T) {
		got := EncodeMPInt(big.NewInt(0x80))
		assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x80}, got)
	})

	t.Run("zero encodes as empty", func(t *testing.T) {
		got := EncodeMPInt(big.NewInt(0))
		assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, got)
	})

	t.Run("negative value panics", func(t *testing.T) {
		assert.Panics(t, func() { EncodeMPInt(big.NewInt(-1)) })
	})

	t.Run("mpint bytes strips incidental leading zeros before re-padding", func(t *testing.T) {
		got := EncodeMPIntBytes([]byte{0x00, 0x00, 0x80})
		assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x80}, got)
	})

	t.Run("round trip through Writer/Reader", func(t *testing.T) {
		n := big.NewInt(123456789012345)
		w := NewWriter()
		w.MPInt(n)
		r := NewReader(w.Bytes())
		assert.Equal(t, 0, n.Cmp(r.MPInt()))
		require.NoError(t, r.Err())
	})
}
