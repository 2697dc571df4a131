package providerconfig_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"github.com/cmux/streamengine/providerconfig"
)

func TestDefaultTableMatchesSpecRows(t *testing.T) {
	table := providerconfig.Default()

	anthropic := table.Lookup("anthropic")
	assert.True(t, anthropic.Strict)
	assert.True(t, anthropic.CacheHints)
	assert.False(t, anthropic.StripReasoning)

	openai := table.Lookup("openai")
	assert.True(t, openai.StripReasoning)
	assert.False(t, openai.Strict)
}

func TestLookupUnknownProviderIsPermissive(t *testing.T) {
	table := providerconfig.Default()
	ghost := table.Lookup("ghost")
	assert.False(t, ghost.Strict)
	assert.False(t, ghost.StripReasoning)
	assert.False(t, ghost.CacheHints)
}

func TestLoadMissingFileReturnsEmptyTable(t *testing.T) {
	fs := afs.New()
	table, err := providerconfig.Load(context.Background(), fs, filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestLoadOverridesMergeOverDefault(t *testing.T) {
	fs := afs.New()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	doc := []byte("- name: openai\n  strict: true\n  cacheHints: true\n")
	require.NoError(t, fs.Upload(context.Background(), path, file.DefaultFileOsMode, bytes.NewReader(doc)))

	override, err := providerconfig.Load(context.Background(), fs, path)
	require.NoError(t, err)

	merged := providerconfig.Merge(providerconfig.Default(), override)
	openai := merged.Lookup("openai")
	assert.True(t, openai.Strict)
	assert.True(t, openai.CacheHints)

	anthropic := merged.Lookup("anthropic")
	assert.True(t, anthropic.Strict, "unrelated entries survive the merge")
}
