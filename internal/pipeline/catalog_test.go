package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fooArtifact = `{
	"name": "Foo",
	"address": "0x000000000000000000000000000000000000aa",
	"abi": [{"type":"function","name":"ping","inputs":[],"outputs":[]}]
}`

const multiNetworkArtifact = `{
	"name": "Bar",
	"networks": {"1": "0x00000000000000000000000000000000000000bb"},
	"abi": [{"type":"function","name":"ping","inputs":[],"outputs":[]}]
}`

func writeArtifact(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(content), 0o644))
}

func TestFileCatalog_GetResolvesAndMemoizes(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Foo", fooArtifact)

	catalog := NewFileCatalog(dir, "", 1)
	contract, err := catalog.Get("Foo")
	require.NoError(t, err)
	assert.Equal(t, "Foo", contract.Name)

	// Second call must return the identical cached pointer.
	again, err := catalog.Get("Foo")
	require.NoError(t, err)
	assert.Same(t, contract, again)
}

func TestFileCatalog_GetResolvesPerNetworkAddress(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Bar", multiNetworkArtifact)

	catalog := NewFileCatalog(dir, "", 1)
	contract, err := catalog.Get("Bar")
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", contract.Address.Hex())
}

func TestFileCatalog_GetFailsWithNoNetworkInContract(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Bar", multiNetworkArtifact)

	catalog := NewFileCatalog(dir, "", 999) // no binding for chain 999
	_, err := catalog.Get("Bar")
	require.Error(t, err)
}

func TestFileCatalog_PreloadScansDirectory(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Foo", fooArtifact)
	writeArtifact(t, dir, "Bar", multiNetworkArtifact)

	catalog := NewFileCatalog(dir, "", 1)
	require.NoError(t, catalog.Preload())

	_, err := catalog.Get("Foo")
	require.NoError(t, err)
	_, err = catalog.Get("Bar")
	require.NoError(t, err)
}

func TestContract_EncodeCall(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "Foo", fooArtifact)

	catalog := NewFileCatalog(dir, "", 1)
	contract, err := catalog.Get("Foo")
	require.NoError(t, err)

	data, err := contract.EncodeCall("ping")
	require.NoError(t, err)
	assert.Len(t, data, 4) // 4-byte method selector, no args
}
