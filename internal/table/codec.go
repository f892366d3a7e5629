package table

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/rotisserie/eris"
)

// formatVersion is bumped whenever the encoded layout changes so stale cache
// entries are rejected instead of misread.
const formatVersion = 1

type encoded struct {
	Version int
	Rows    int
	Columns []Column
}

// Encode writes the table to w in a columnar gob layout.
func (t *Table) Encode(w io.Writer) error {
	enc := encoded{Version: formatVersion, Rows: t.rows, Columns: make([]Column, len(t.cols))}
	for i, c := range t.cols {
		enc.Columns[i] = *c
	}
	if err := gob.NewEncoder(w).Encode(&enc); err != nil {
		return eris.Wrap(err, "table: encode")
	}
	return nil
}

// Decode reads a table written by Encode.
func Decode(r io.Reader) (*Table, error) {
	var enc encoded
	if err := gob.NewDecoder(r).Decode(&enc); err != nil {
		return nil, eris.Wrap(err, "table: decode")
	}
	if enc.Version != formatVersion {
		return nil, eris.Errorf("table: unsupported format version %d", enc.Version)
	}
	t := New()
	for i := range enc.Columns {
		c := enc.Columns[i]
		// gob drops empty slices; restore them so zero-row tables round-trip.
		switch c.Kind {
		case Int:
			if c.Ints == nil {
				c.Ints = []int64{}
			}
		case Float:
			if c.Floats == nil {
				c.Floats = []float64{}
			}
		case String:
			if c.Strings == nil {
				c.Strings = []string{}
			}
		}
		if err := t.Add(&c); err != nil {
			return nil, eris.Wrap(err, "table: decode")
		}
	}
	if t.Width() > 0 && t.rows != enc.Rows {
		return nil, eris.Errorf("table: decoded %d rows, header says %d", t.rows, enc.Rows)
	}
	t.rows = enc.Rows
	return t, nil
}

// MarshalBinary encodes the table into a byte slice.
func (t *Table) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a byte slice produced by MarshalBinary.
func Unmarshal(data []byte) (*Table, error) {
	return Decode(bytes.NewReader(data))
}
