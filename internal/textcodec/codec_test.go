package textcodec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timxx/qgitc-sub000/internal/errors"
)

// "中文" encoded as GBK.
var gbkChinese = []byte{0xd6, 0xd0, 0xce, 0xc4}

func TestNew(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "", c.Name())

	c, err = New("GBK")
	require.NoError(t, err)
	assert.Equal(t, "gbk", c.Name())

	c, err = New("utf8")
	require.NoError(t, err)
	assert.Equal(t, "", c.Name(), "utf-8 as secondary is a no-op")

	_, err = New("klingon")
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "git.secondary_encoding", verr.Field)
}

func TestCodec_Decode(t *testing.T) {
	gbk, err := New("gbk")
	require.NoError(t, err)
	plain, err := New("")
	require.NoError(t, err)

	tests := []struct {
		name  string
		codec *Codec
		in    []byte
		want  string
		kind  Kind
	}{
		{"ascii", plain, []byte("fix bug"), "fix bug", UTF8},
		{"utf8", gbk, []byte("修复"), "修复", UTF8},
		{"secondary", gbk, gbkChinese, "中文", Secondary},
		{"lossy without secondary", plain, []byte{'a', 0xff, 'b'}, "a�b", Lossy},
		{"lossy when secondary fails", gbk, []byte{0x81, ' '}, "� ", Lossy},
		{"zero value codec", &Codec{}, []byte{0xc3}, "�", Lossy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, kind := tt.codec.Decode(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestCodec_Err(t *testing.T) {
	gbk, err := New("gbk")
	require.NoError(t, err)

	assert.NoError(t, gbk.Err(UTF8))
	assert.NoError(t, gbk.Err(Secondary))

	derr := gbk.Err(Lossy)
	require.Error(t, derr)
	assert.True(t, errors.Is(derr, errors.ErrUndecodable))
	assert.Contains(t, derr.Error(), "utf-8,gbk")
}

func TestSticky(t *testing.T) {
	gbk, err := New("gbk")
	require.NoError(t, err)
	s := NewSticky(gbk)

	out, kind := s.Decode([]byte("diff --git a/x b/x"))
	assert.Equal(t, UTF8, kind)
	assert.True(t, strings.HasPrefix(out, "diff"))

	out, kind = s.Decode(gbkChinese)
	assert.Equal(t, Secondary, kind)
	assert.Equal(t, "中文", out)

	// "é" in UTF-8 (c3 a9) is also a valid GBK pair; once the section
	// switched to GBK it keeps decoding with GBK.
	eAcute := []byte("é")
	out, kind = s.Decode(eAcute)
	assert.Equal(t, Secondary, kind)
	assert.NotEqual(t, "é", out)

	s.Reset()
	out, kind = s.Decode(eAcute)
	assert.Equal(t, UTF8, kind)
	assert.Equal(t, "é", out)

	assert.Equal(t, "plain", s.String([]byte("plain")))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "utf-8", UTF8.String())
	assert.Equal(t, "secondary", Secondary.String())
	assert.Equal(t, "lossy", Lossy.String())
}
