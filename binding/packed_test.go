package qtbind

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestPackedStringEmpty(t *testing.T) {
	p := PackString("")

	assert.NotNil(t, p.Data, "empty string should pack to a non-nil buffer")
	assert.Equal(t, int64(0), p.Length)
	assert.Equal(t, "", p.String())
	assert.Empty(t, p.Bytes())
}

func TestPackedStringMultiByte(t *testing.T) {
	for _, s := range []string{"a", "héllo", "日本語テキスト", "emoji 🎉 and ✓", string([]byte{0, 1, 2})} {
		p := PackString(s)

		assert.Equal(t, int64(len(s)), p.Length, "length counts bytes, not runes")
		assert.Equal(t, s, p.String())
		assert.Equal(t, []byte(s), p.Bytes())
	}

	p := PackString("日本")
	assert.True(t, utf8.Valid(p.Bytes()))
}

func TestPackedStringOwnsItsBuffer(t *testing.T) {
	src := []byte("mutable")
	p := PackBytes(src)
	src[0] = 'M'
	assert.Equal(t, "mutable", p.String(), "packing should copy the source")

	out := p.Bytes()
	out[0] = 'X'
	assert.Equal(t, "mutable", p.String(), "Bytes should return a copy")

	c := p.Clone()
	c.Data[0] = 'Y'
	assert.Equal(t, "mutable", p.String(), "Clone should not share the buffer")
}
