package etl

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/BartekS5/xfer/pkg/logger"
	"github.com/BartekS5/xfer/pkg/models"
)

// File formats understood by FileSource.
const (
	FormatCSV   = "csv"
	FormatFixed = "fixed"
	FormatXLSX  = "xlsx"
)

// FileSource reads a delimited, fixed-width or xlsx file. Every value is a
// string; empty cells stay empty strings. Without Names the first row after
// SkipRows is the header. The last SkipFooter rows are discarded.
type FileSource struct {
	cfg models.FileConfig
}

func NewFileSource(cfg models.FileConfig) (*FileSource, error) {
	if cfg.Path == "" {
		return nil, errors.New("file source path is required")
	}
	if cfg.Format == "" {
		cfg.Format = FormatCSV
		if strings.HasSuffix(strings.ToLower(cfg.Path), ".xlsx") {
			cfg.Format = FormatXLSX
		} else if len(cfg.Widths) > 0 {
			cfg.Format = FormatFixed
		}
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = ","
	}
	if cfg.QuoteChar == "" {
		cfg.QuoteChar = `"`
	}
	if cfg.SkipRows < 0 || cfg.SkipFooter < 0 {
		return nil, errors.New("skiprows and skipfooter must not be negative")
	}

	switch cfg.Format {
	case FormatCSV:
		if utf8.RuneCountInString(cfg.Delimiter) != 1 || utf8.RuneCountInString(cfg.QuoteChar) != 1 {
			return nil, errors.New("delimiter and quotechar must be single characters")
		}
	case FormatFixed:
		if len(cfg.Widths) == 0 {
			return nil, errors.New("fixed width files need widths")
		}
		for _, w := range cfg.Widths {
			if w <= 0 {
				return nil, fmt.Errorf("invalid field width %d", w)
			}
		}
	case FormatXLSX:
	default:
		return nil, fmt.Errorf("unsupported file format %q", cfg.Format)
	}
	return &FileSource{cfg: cfg}, nil
}

func (s *FileSource) Open(_ context.Context) (Cursor, error) {
	var (
		next   func() ([]string, error)
		closer io.Closer
		err    error
	)
	switch s.cfg.Format {
	case FormatXLSX:
		next, closer, err = s.openXLSX()
	default:
		next, closer, err = s.openText()
	}
	if err != nil {
		return nil, err
	}

	cur := &fileCursor{next: next, closer: closer, skipFooter: s.cfg.SkipFooter}
	if len(s.cfg.Names) > 0 {
		cur.cols = append([]string(nil), s.cfg.Names...)
	} else {
		header, err := next()
		if errors.Is(err, io.EOF) {
			cur.done = true
			return cur, nil
		}
		if err != nil {
			closer.Close()
			return nil, queryErr("read header "+s.cfg.Path, err)
		}
		cur.cols = header
	}
	logger.Infof("file %s field names: %v", s.cfg.Path, cur.cols)
	return cur, nil
}

func (s *FileSource) openText() (func() ([]string, error), io.Closer, error) {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return nil, nil, connectivityErr("open "+s.cfg.Path, err)
	}

	var r io.Reader = f
	if s.cfg.Encoding == "" || strings.EqualFold(s.cfg.Encoding, "utf-8") || strings.EqualFold(s.cfg.Encoding, "utf8") {
		r = transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	} else {
		cs, err := LookupCharset(s.cfg.Encoding)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		r = transform.NewReader(r, cs.enc.NewDecoder())
	}

	br := bufio.NewReader(r)
	for i := 0; i < s.cfg.SkipRows; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			break
		}
	}

	if s.cfg.Format == FormatFixed {
		return fixedWidthReader(br, s.cfg.Widths), f, nil
	}

	delim, _ := utf8.DecodeRuneInString(s.cfg.Delimiter)
	quote, _ := utf8.DecodeRuneInString(s.cfg.QuoteChar)

	var in io.Reader = br
	if quote != '"' {
		// encoding/csv only knows '"'; swap the two characters on the way in
		// and back in every field.
		in = transform.NewReader(br, runes.Map(swapRunes(quote, '"')))
	}
	cr := csv.NewReader(in)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	next := func() ([]string, error) {
		rec, err := cr.Read()
		if err != nil {
			return nil, err
		}
		if quote != '"' {
			swap := swapRunes(quote, '"')
			for i := range rec {
				rec[i] = strings.Map(swap, rec[i])
			}
		}
		return rec, nil
	}
	return next, f, nil
}

func swapRunes(a, b rune) func(rune) rune {
	return func(r rune) rune {
		switch r {
		case a:
			return b
		case b:
			return a
		}
		return r
	}
}

func fixedWidthReader(br *bufio.Reader, widths []int) func() ([]string, error) {
	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return func() ([]string, error) {
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			rs := []rune(line)
			out := make([]string, len(widths))
			pos := 0
			for i, w := range widths {
				end := min(pos+w, len(rs))
				if pos < len(rs) {
					out[i] = strings.TrimSpace(string(rs[pos:end]))
				}
				pos = end
			}
			return out, nil
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
}

type xlsxCloser struct {
	rows *excelize.Rows
	file *excelize.File
}

func (c xlsxCloser) Close() error {
	err := c.rows.Close()
	if ferr := c.file.Close(); err == nil {
		err = ferr
	}
	return err
}

func (s *FileSource) openXLSX() (func() ([]string, error), io.Closer, error) {
	f, err := excelize.OpenFile(s.cfg.Path)
	if err != nil {
		return nil, nil, connectivityErr("open "+s.cfg.Path, err)
	}
	sheet := s.cfg.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			f.Close()
			return nil, nil, queryErr("open "+s.cfg.Path, errors.New("workbook has no sheets"))
		}
		sheet = sheets[0]
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, nil, queryErr("open sheet "+sheet, err)
	}

	for skipped := 0; skipped < s.cfg.SkipRows; skipped++ {
		if !rows.Next() {
			break
		}
	}

	next := func() ([]string, error) {
		for rows.Next() {
			row, err := rows.Columns()
			if err != nil {
				return nil, err
			}
			if len(row) == 0 {
				continue
			}
			return row, nil
		}
		if err := rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return next, xlsxCloser{rows: rows, file: f}, nil
}

// fileCursor turns raw string rows into records, holding back skipFooter
// rows until the end of input is known.
type fileCursor struct {
	next       func() ([]string, error)
	closer     io.Closer
	cols       []string
	skipFooter int
	pending    [][]string
	line       int
	done       bool
}

func (c *fileCursor) Columns() []string { return append([]string(nil), c.cols...) }

func (c *fileCursor) Fetch(_ context.Context, size int) (models.Chunk, error) {
	chunk := make(models.Chunk, 0, size)
	for len(chunk) < size && !c.done {
		row, err := c.next()
		if errors.Is(err, io.EOF) {
			c.done = true
			c.pending = nil
			break
		}
		if err != nil {
			return nil, queryErr("read file", err)
		}
		c.line++
		c.pending = append(c.pending, row)
		if len(c.pending) <= c.skipFooter {
			continue
		}
		front := c.pending[0]
		c.pending = c.pending[1:]

		rec, err := c.record(front)
		if err != nil {
			return nil, queryErr("read file", err)
		}
		chunk = append(chunk, rec)
	}
	return chunk, nil
}

func (c *fileCursor) record(row []string) (*models.Record, error) {
	if len(row) > len(c.cols) {
		return nil, fmt.Errorf("row %d has %d fields, expected %d", c.line, len(row), len(c.cols))
	}
	// Short rows are padded with empty strings, never nil.
	vals := make([]any, len(c.cols))
	for i := range c.cols {
		vals[i] = ""
		if i < len(row) {
			vals[i] = row[i]
		}
	}
	return models.NewRecord(c.cols, vals), nil
}

func (c *fileCursor) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
