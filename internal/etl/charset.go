package etl

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/BartekS5/xfer/pkg/models"
)

// DefaultCharacterEncoding is the sink encoding used when a task does not set
// one; it matches nvarchar columns on SQL Server.
const DefaultCharacterEncoding = "utf-16le"

// Charset transcodes string values for a sink. A nil *Charset means no
// transcoding.
type Charset struct {
	name string
	enc  encoding.Encoding
}

// LookupCharset resolves an encoding name. An empty name returns nil.
// Aliases resolve to one canonical name, so "latin1" and "ISO-8859-1" name
// the same Charset.
func LookupCharset(name string) (*Charset, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	if key == "" {
		return nil, nil
	}

	switch key {
	case "utf-16le", "utf16le", "utf-16-le":
		return &Charset{name: "utf-16le", enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}, nil
	case "utf-16be", "utf16be", "utf-16-be":
		return &Charset{name: "utf-16be", enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)}, nil
	case "utf-8", "utf8":
		return &Charset{name: "utf-8", enc: unicode.UTF8}, nil
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1":
		return &Charset{name: "iso-8859-1", enc: charmap.ISO8859_1}, nil
	case "cp1252", "windows-1252":
		return &Charset{name: "windows-1252", enc: charmap.Windows1252}, nil
	}

	enc, err := ianaindex.IANA.Encoding(strings.TrimSpace(name))
	if err != nil || enc == nil {
		return nil, encodingErr("lookup charset", fmt.Errorf("unsupported character encoding %q", name))
	}
	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		canonical = key
	}
	return &Charset{name: strings.ToLower(canonical), enc: enc}, nil
}

func (c *Charset) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Encode transcodes s. Runes the target charset cannot represent are an
// error rather than being substituted.
func (c *Charset) Encode(s string) (models.EncodedString, error) {
	data, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return models.EncodedString{}, fmt.Errorf("encode %q as %s: %w", s, c.name, err)
	}
	return models.EncodedString{Text: s, Encoding: c.name, Data: data}, nil
}

// resolveSinkCharset validates the sink-wide encoding against optional
// per-column overrides. Every override has to name the same charset.
func resolveSinkCharset(name string, columns map[string]string) (*Charset, error) {
	cs, err := LookupCharset(name)
	if err != nil {
		return nil, err
	}
	for col, colName := range columns {
		other, err := LookupCharset(colName)
		if err != nil {
			return nil, err
		}
		if other.Name() != cs.Name() {
			return nil, encodingErr("resolve charset", fmt.Errorf(
				"column %q requests %q but the sink encodes as %q; mixed encodings are not supported",
				col, other.Name(), cs.Name()))
		}
	}
	return cs, nil
}
