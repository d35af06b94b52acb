package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexCmdScansMatchingFiles(t *testing.T) {
	docsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "a.md"), []byte("# A Title\n\nSome content about gardening."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "b.txt"), []byte("not markdown"), 0o644))

	indexDir = filepath.Join(t.TempDir(), "index")

	cmd := newIndexCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{docsDir, "--collection", "garden"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "garden")
	assert.Contains(t, buf.String(), "scanned 1")
}

func TestTitleFromBodyUsesFirstHeading(t *testing.T) {
	assert.Equal(t, "My Title", titleFromBody("# My Title\n\nbody", "fallback.md"))
	assert.Equal(t, "fallback.md", titleFromBody("no heading here", "fallback.md"))
}

func TestExpandHomeLeavesNonTildePathsUnchanged(t *testing.T) {
	assert.Equal(t, "./relative/path", expandHome("./relative/path"))
}
