package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSplitAndCheckSplit(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "proof.bin")
	parts := filepath.Join(dir, "parts")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte("ab"), 25), 0o644))

	out, err := runCmd(t, "split", src, "--out", parts, "--chunk-size", "16")
	require.NoError(t, err)
	assert.Contains(t, out, `"chunk_count"`)

	for _, name := range []string{"p0.bin", "p1.bin", "p2.bin", "p3.bin"} {
		assert.FileExists(t, filepath.Join(parts, name))
	}

	out, err = runCmd(t, "check-split", src, "--dir", parts)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "OK: 4 fragments"))
}

func TestCheckSplitDetectsChangedFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "setup.bin")
	parts := filepath.Join(dir, "parts")
	require.NoError(t, os.WriteFile(src, []byte("original contents"), 0o644))

	_, err := runCmd(t, "split", src, "--out", parts, "--chunk-size", "4")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(src, []byte("edited contents"), 0o644))
	_, err = runCmd(t, "check-split", src, "--dir", parts)
	assert.Error(t, err)
}

func TestUploadSource(t *testing.T) {
	_, _, err := uploadSource(nil, "", 10)
	assert.Error(t, err)

	_, _, err = uploadSource([]string{"a.bin"}, "parts", 10)
	assert.Error(t, err)

	dir := t.TempDir()
	src := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))
	r, size, err := uploadSource([]string{src}, "", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, size)
	r.(*os.File).Close()
}

func TestUploadRequiresProgram(t *testing.T) {
	_, err := runCmd(t, "upload-proof", "missing.bin")
	assert.Error(t, err)
}
