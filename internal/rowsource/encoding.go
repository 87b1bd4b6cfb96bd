package rowsource

import (
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	EncodingUTF8        = "UTF-8"
	EncodingWindows1252 = "WINDOWS-1252"
)

// DetectEncoding picks UTF-8 when sample is valid UTF-8 and windows-1252 otherwise. A
// multibyte rune cut at the end of the sample does not count as invalid.
func DetectEncoding(sample []byte) string {
	if utf8.Valid(trimPartialRune(sample)) {
		return EncodingUTF8
	}
	return EncodingWindows1252
}

func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}

func lookup(name string) encoding.Encoding {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", EncodingUTF8, "UTF8":
		return xunicode.UTF8BOM
	case EncodingWindows1252, "CP1252":
		return charmap.Windows1252
	}
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc
	}
	return xunicode.UTF8BOM
}

// NewReader decodes r from the named encoding to UTF-8 and drops a leading BOM.
func NewReader(r io.Reader, encodingName string) io.Reader {
	return transform.NewReader(r, lookup(encodingName).NewDecoder())
}
