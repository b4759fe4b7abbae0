package migration

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	ApplyMarker  = "-- +mortar apply"
	RevertMarker = "-- +mortar revert"
)

// SQLFile is the parsed content of a plain SQL migration file
type SQLFile struct {
	Apply  []string
	Revert []string
}

// ParseSQL splits the file into apply and revert statements.
// A statement ends with a semicolon at the end of a line.
func ParseSQL(r io.Reader) (*SQLFile, error) {
	var (
		f       SQLFile
		section *[]string
		buf     bytes.Buffer
		line    int
		marked  bool
	)

	flush := func() {
		stmt := strings.TrimSpace(buf.String())
		buf.Reset()
		if stmt != "" && section != nil {
			*section = append(*section, stmt)
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line++
		text := sc.Text()
		trimmed := strings.TrimSpace(text)

		switch {
		case strings.HasPrefix(trimmed, ApplyMarker):
			flush()
			section = &f.Apply
			marked = true
			continue
		case strings.HasPrefix(trimmed, RevertMarker):
			flush()
			section = &f.Revert
			marked = true
			continue
		case trimmed == "" || strings.HasPrefix(trimmed, "--"):
			continue
		}

		if section == nil {
			return nil, errors.Wrapf(ErrMalformedSQLFile, "line %d: statement outside of apply or revert section", line)
		}

		buf.WriteString(text)
		buf.WriteByte('\n')

		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "could not read sql migration")
	}

	if strings.TrimSpace(buf.String()) != "" {
		return nil, errors.Wrap(ErrMalformedSQLFile, "last statement is not terminated with a semicolon")
	}

	if !marked {
		return nil, errors.Wrap(ErrMalformedSQLFile, "no apply or revert section found")
	}

	return &f, nil
}

// Factory turns the parsed file into a unit factory
func (f *SQLFile) Factory() Factory {
	return Statements(f.Apply, f.Revert)
}

// Stub returns the content of a freshly created SQL migration
func Stub() string {
	var b strings.Builder
	b.WriteString(ApplyMarker)
	b.WriteString("\n\n")
	b.WriteString(RevertMarker)
	b.WriteString("\n")
	return b.String()
}
