package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-block-editor/config"
	"github.com/alimasry/go-block-editor/store"
)

func TestConvertDocument(t *testing.T) {
	cfg := config.Default()

	out, err := convertDocument("## Hello\n\ntext\n", "markdown", "html", cfg)
	require.NoError(t, err)
	assert.Equal(t, "<h2>Hello</h2>\n<p>text</p>\n", out)

	js, err := convertDocument("<h3>Sub</h3>", "html", "json", cfg)
	require.NoError(t, err)
	assert.Contains(t, js, `"name":"heading2"`)

	md, err := convertDocument(js, "json", "markdown", cfg)
	require.NoError(t, err)
	assert.Equal(t, "### Sub\n", md)

	_, err = convertDocument(`{"name":"$root","children":[{"name":"bogus"}]}`, "json", "html", cfg)
	assert.Error(t, err)

	_, err = convertDocument("x", "pdf", "html", cfg)
	assert.Error(t, err)
	_, err = convertDocument("x", "html", "pdf", cfg)
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	cfg := config.Default()
	st, closer, err := openStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, st)
	assert.NoError(t, closer.Close())

	cfg.Store = config.StoreBadger
	cfg.BadgerDir = filepath.Join(t.TempDir(), "db")
	st, closer, err = openStore(context.Background(), cfg, testEntry())
	require.NoError(t, err)
	assert.IsType(t, &store.BadgerStore{}, st)
	assert.NoError(t, closer.Close())
}

func TestInitConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockeditor.yaml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"init-config", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "store: memory")
}

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
