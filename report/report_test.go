package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsole_Line(t *testing.T) {
	t.Run("it will strip markup without colors", func(t *testing.T) {
		var buf bytes.Buffer
		c := NewConsole(&buf, false)

		c.Line("<comment>Migrating:</comment> <question>2020_01_01_000000_create_users.sql</question>")
		c.Line("<info>Migrated:</info> <question>2020_01_01_000000_create_users.sql</question> (0.01s)")
		c.Line("")

		assert.Equal(t,
			"Migrating: 2020_01_01_000000_create_users.sql\n"+
				"Migrated: 2020_01_01_000000_create_users.sql (0.01s)\n"+
				"\n",
			buf.String(),
		)
	})

	t.Run("it will color markup", func(t *testing.T) {
		c := NewConsole(&bytes.Buffer{}, true)

		out := c.Render("<error>failed</error>")
		assert.NotEqual(t, "failed", out)
		assert.Contains(t, out, "failed")
		assert.Contains(t, out, "\x1b[")
	})

	t.Run("unknown tags are left alone", func(t *testing.T) {
		c := NewConsole(&bytes.Buffer{}, false)
		assert.Equal(t, "<b>bold</b>", c.Render("<b>bold</b>"))
	})
}

func TestTextTable(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false)

	tbl := c.Table()
	tbl.SetHeaderRow([]string{"SQL"})
	tbl.SetRows([][]string{{"CREATE TABLE users (id INTEGER);\nCREATE INDEX users_id ON users (id);"}})

	require.NoError(t, tbl.Render(c.Output()))

	assert.Equal(t,
		"SQL\n"+
			"---\n"+
			"CREATE TABLE users (id INTEGER);\n"+
			"CREATE INDEX users_id ON users (id);\n",
		buf.String(),
	)
}

func TestTextTable_Columns(t *testing.T) {
	var buf bytes.Buffer

	tbl := &TextTable{}
	tbl.SetHeaderRow([]string{"Migration", "Ran", "Batch"})
	tbl.SetRows([][]string{
		{"a.sql", "yes", "1"},
		{"bb.sql", "no", ""},
	})

	require.NoError(t, tbl.Render(&buf))

	assert.Equal(t,
		"Migration   Ran   Batch\n"+
			"---------   ---   -----\n"+
			"a.sql       yes   1\n"+
			"bb.sql      no    \n",
		buf.String(),
	)
}
