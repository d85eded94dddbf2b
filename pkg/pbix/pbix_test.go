package pbix

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name   string
	data   string
	method uint16
}

func buildArchive(t *testing.T, entries ...entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: e.method})
		require.NoError(t, err)
		_, err = io.WriteString(w, e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// rawEntries returns the compressed bytes and header fields of every entry.
func rawEntries(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.OpenRaw()
		require.NoError(t, err)
		raw, err := io.ReadAll(rc)
		require.NoError(t, err)
		out[f.Name] = raw
	}
	return out
}

func TestRebind(t *testing.T) {
	fs := afero.NewMemMapFs()
	original := buildArchive(t,
		entry{name: "Version", data: "1.28", method: zip.Store},
		entry{name: "Connections", data: `{"Version":1,"Connections":[]}`, method: zip.Deflate},
		entry{name: "SecurityBindings", data: "binary-blob", method: zip.Store},
		entry{name: "Report/Layout", data: `{"sections":[{"name":"Overview"}]}`, method: zip.Deflate},
	)
	require.NoError(t, afero.WriteFile(fs, "/reports/Sales.pbix", original, 0o644))

	replacement := []byte(`{"Version":3,"RemoteArtifacts":[{"DatasetId":"aid"}]}`)
	require.NoError(t, Rebind(fs, "/reports/Sales.pbix", replacement))

	t.Run("ConnectionsReadBack", func(t *testing.T) {
		got, err := ReadConnectionsFile(fs, "/reports/Sales.pbix")
		require.NoError(t, err)
		assert.Equal(t, replacement, got)
	})

	t.Run("OtherEntriesByteIdentical", func(t *testing.T) {
		rewritten, err := afero.ReadFile(fs, "/reports/Sales.pbix")
		require.NoError(t, err)

		before := rawEntries(t, original)
		after := rawEntries(t, rewritten)

		assert.NotContains(t, after, "SecurityBindings")
		assert.Equal(t, before["Version"], after["Version"])
		assert.Equal(t, before["Report/Layout"], after["Report/Layout"])
		assert.Len(t, after, 3)
	})

	t.Run("TempFileRemoved", func(t *testing.T) {
		exists, err := afero.Exists(fs, "/reports/Sales Temp.pbix")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestRebindWithoutConnections(t *testing.T) {
	fs := afero.NewMemMapFs()
	original := buildArchive(t, entry{name: "DataModel", data: "model", method: zip.Store})
	require.NoError(t, afero.WriteFile(fs, "Model.pbix", original, 0o644))

	err := Rebind(fs, "Model.pbix", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoConnections))

	after, err := afero.ReadFile(fs, "Model.pbix")
	require.NoError(t, err)
	assert.Equal(t, original, after)
}

func TestRebindNotAnArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "broken.pbix", []byte("not a zip"), 0o644))

	err := Rebind(fs, "broken.pbix", []byte("x"))
	require.Error(t, err)

	exists, err := afero.Exists(fs, "broken Temp.pbix")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReadConnectionsBytes(t *testing.T) {
	data := buildArchive(t, entry{name: "Connections", data: "conn", method: zip.Deflate})

	got, err := ReadConnectionsBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "conn", string(got))

	_, err = ReadConnectionsBytes(buildArchive(t, entry{name: "Other", data: "x"}))
	assert.ErrorIs(t, err, ErrNoConnections)
}

func TestTempPath(t *testing.T) {
	assert.Equal(t, "dir/Sales Temp.pbix", TempPath("dir/Sales.pbix"))
	assert.Equal(t, "Report Temp", TempPath("Report"))
}
