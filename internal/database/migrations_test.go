package database

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingFiles_SortedSQLOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql":  {Data: []byte("SELECT 2")},
		"001_a.sql":  {Data: []byte("SELECT 1")},
		"README.md":  {Data: []byte("notes")},
		"sub/03.sql": {Data: []byte("SELECT 3")},
	}

	files, err := pendingFiles(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "002_b.sql"}, files)
}

func TestMigrations_Embedded(t *testing.T) {
	files, err := pendingFiles(Migrations())
	require.NoError(t, err)
	require.NotEmpty(t, files)

	sql, err := fs.ReadFile(Migrations(), files[0])
	require.NoError(t, err)
	assert.Contains(t, string(sql), "content_units")
}
