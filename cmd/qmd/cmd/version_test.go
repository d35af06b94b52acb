package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qmd-dev/qmd/pkg/version"
)

func TestVersionCmdDefaultOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "qmd")
	assert.Contains(t, buf.String(), version.Version)
}

func TestVersionCmdJSONOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--json"})

	require.NoError(t, cmd.Execute())

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, version.Version, info.Version)
}
