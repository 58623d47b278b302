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

const boardYAML = `
controller:
  wp_mode: default-on
chip:
  size_mib: 4
  erase_kib: 128
  page_size: 2048
  oob_size: 64
`

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

// board writes the config file and returns the flags selecting it and a
// fresh image.
func board(t *testing.T) (dir string, flags []string) {
	t.Helper()
	dir = t.TempDir()
	cfg := filepath.Join(dir, "board.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(boardYAML), 0o644))
	return dir, []string{"--config", cfg, "--image", filepath.Join(dir, "flash.img")}
}

func TestLayoutLevel(t *testing.T) {
	out, _, err := run(t, "layout", "--level", "4")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"ECC bytes: 28",
		"ECC pos:   9-15 25-31 41-47 57-63",
		"Free:      1+8 16+9 32+9 48+9",
		"Available: 35",
	}, "\n")+"\n", out)

	out, _, err = run(t, "layout", "--level", "15")
	require.NoError(t, err)
	assert.Contains(t, out, "ECC pos:   6-8 22-24 38-40 54-56\n")
	assert.Contains(t, out, "Available: 51\n")
}

func TestInfoChips(t *testing.T) {
	out, _, err := run(t, "info", "--chips")
	require.NoError(t, err)
	assert.Contains(t, out, "2CDA\tMicron MT29F2G08 2Gb\t256MiB 128KiB/2048+64\n")
	assert.Equal(t, 4, strings.Count(out, "\n"))
}

func TestInfo(t *testing.T) {
	_, flags := board(t)
	out, _, err := run(t, append([]string{"info"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Chip:         custom\n")
	assert.Contains(t, out, "Pages:        2048 x 2048 bytes\n")
	assert.Contains(t, out, "Transfers:    bulk (FLASH_DMA)\n")
}

func TestWriteReadErase(t *testing.T) {
	dir, flags := board(t)
	in := filepath.Join(dir, "in.bin")
	payload := []byte("brcmnand bench payload")
	require.NoError(t, os.WriteFile(in, payload, 0o644))

	out, _, err := run(t, append([]string{"write", "--page", "1", "-i", in}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "wrote 1 pages at page 1\n", out)

	dump := filepath.Join(dir, "out.bin")
	_, stderr, err := run(t, append([]string{"read", "--page", "1", "-o", dump}, flags...)...)
	require.NoError(t, err)
	assert.Empty(t, stderr, "no bitflips on a fresh image")
	got, err := os.ReadFile(dump)
	require.NoError(t, err)
	require.Len(t, got, 2048)
	assert.Equal(t, payload, got[:len(payload)])
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 2048-len(payload)), got[len(payload):])

	out, _, err = run(t, append([]string{"erase", "--page", "1"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "erased 1 blocks at page 0\n", out)

	_, _, err = run(t, append([]string{"read", "--page", "1", "-o", dump}, flags...)...)
	require.NoError(t, err)
	got, err = os.ReadFile(dump)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 2048), got)
}

func TestReadHexdump(t *testing.T) {
	_, flags := board(t)
	out, _, err := run(t, append([]string{"read", "--raw", "--oob"}, flags...)...)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "00000000  ff ff ff ff"))
	// 2048+64 bytes: the last line starts at 0x830
	assert.Contains(t, out, "\n00000830  ff")
}

func TestWriteNeedsInput(t *testing.T) {
	_, flags := board(t)
	_, _, err := run(t, append([]string{"write"}, flags...)...)
	assert.ErrorContains(t, err, "nothing to write")
}

func TestBadConfig(t *testing.T) {
	_, _, err := run(t, "info", "--chip", "no such chip")
	assert.ErrorContains(t, err, "config validation failed")
}
