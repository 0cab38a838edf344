// Package textcodec decodes git output whose encoding is not known in
// advance. Bytes are tried as UTF-8 first, then as a user-configured
// secondary encoding, and finally decoded lossily with invalid sequences
// replaced by U+FFFD.
package textcodec

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/timxx/qgitc-sub000/internal/errors"
)

// Kind reports which step of the fallback chain produced a string.
type Kind int

const (
	UTF8 Kind = iota
	Secondary
	Lossy
)

func (k Kind) String() string {
	switch k {
	case UTF8:
		return "utf-8"
	case Secondary:
		return "secondary"
	default:
		return "lossy"
	}
}

var replacement = []byte(string(utf8.RuneError))

// Codec holds the fallback chain. The zero value decodes UTF-8 with lossy
// replacement and is safe for concurrent use.
type Codec struct {
	name      string
	secondary encoding.Encoding
}

// New returns a Codec using secondary as the second step of the chain.
// An empty name disables the secondary step.
func New(secondary string) (*Codec, error) {
	c := &Codec{}
	if secondary == "" {
		return c, nil
	}
	enc, err := htmlindex.Get(secondary)
	if err != nil {
		return nil, errors.NewValidationError("unknown encoding").
			WithField("git.secondary_encoding").
			WithValue(secondary)
	}
	name, _ := htmlindex.Name(enc)
	if name == "utf-8" {
		return c, nil
	}
	c.name = name
	c.secondary = enc
	return c, nil
}

// Name returns the canonical secondary encoding name, or "".
func (c *Codec) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Decode converts b to a string and reports the chain step used.
func (c *Codec) Decode(b []byte) (string, Kind) {
	if utf8.Valid(b) {
		return string(b), UTF8
	}
	if s, ok := c.decodeSecondary(b); ok {
		return s, Secondary
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError)), Lossy
}

// String is Decode without the Kind.
func (c *Codec) String(b []byte) string {
	s, _ := c.Decode(b)
	return s
}

// Err returns a DecodeError describing a lossy decode, or nil.
func (c *Codec) Err(kind Kind) error {
	if kind != Lossy {
		return nil
	}
	tried := []string{"utf-8"}
	if c.Name() != "" {
		tried = append(tried, c.Name())
	}
	return errors.NewDecodeError(tried...)
}

// decodeSecondary succeeds only when the secondary decoder did not need to
// substitute U+FFFD for any input byte.
func (c *Codec) decodeSecondary(b []byte) (string, bool) {
	if c == nil || c.secondary == nil {
		return "", false
	}
	out, err := c.secondary.NewDecoder().Bytes(b)
	if err != nil {
		return "", false
	}
	if bytes.Count(out, replacement) > bytes.Count(b, replacement) {
		return "", false
	}
	return string(out), true
}

// Sticky decodes a sequence of related chunks, such as the lines of one
// file section. Once a chunk needs the secondary encoding, later chunks try
// it first so a file is not decoded half one way and half the other.
type Sticky struct {
	codec     *Codec
	preferred Kind
}

// NewSticky returns a Sticky decoder over c.
func NewSticky(c *Codec) *Sticky {
	return &Sticky{codec: c}
}

// Decode converts b, preferring the encoding chosen by an earlier chunk.
func (s *Sticky) Decode(b []byte) (string, Kind) {
	if s.preferred == Secondary && !isASCII(b) {
		if out, ok := s.codec.decodeSecondary(b); ok {
			return out, Secondary
		}
	}
	out, kind := s.codec.Decode(b)
	if kind == Secondary {
		s.preferred = Secondary
	}
	return out, kind
}

// String is Decode without the Kind.
func (s *Sticky) String(b []byte) string {
	out, _ := s.Decode(b)
	return out
}

// Reset forgets the preferred encoding; call it at a section boundary.
func (s *Sticky) Reset() {
	s.preferred = UTF8
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
