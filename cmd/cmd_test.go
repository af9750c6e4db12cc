package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"arctic-iceberg/catalog"
	"arctic-iceberg/config"
	"arctic-iceberg/partition"
	"arctic-iceberg/schema"
	"arctic-iceberg/storage"
)

// warehouse writes a config for a file catalog in a temp dir and creates
// one table in it.
func warehouse(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "warehouse")

	local, err := storage.NewLocalStorage(path)
	require.NoError(t, err)
	md, err := catalog.NewTableMetadata(catalog.TableSpec{
		Location: local.Location("db.events"),
		Schema: schema.MustNew(
			schema.NestedField{ID: 1, Name: "id", Type: schema.Long, Required: true},
			schema.NestedField{ID: 2, Name: "ts", Type: schema.Timestamp},
		),
		Partition:  []partition.Field{partition.NewField(2, "ts_day", partition.Day())},
		Properties: map[string]string{"owner": "ingest"},
	})
	require.NoError(t, err)
	_, err = catalog.New(catalog.NewFileStore(local)).CreateTable(context.Background(), "db.events", md)
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	doc := "catalog:\n  type: file\nstorage:\n  type: local\n  path: " + path + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))
	return cfgPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	// Flag variables keep their values between executions.
	inspectRaw = false
	removeKeys = nil
	expireOlderThan = 0
	expireIDs = nil
	err := rootCmd.Execute()
	return out.String(), err
}

func TestInspect(t *testing.T) {
	cfgPath := warehouse(t)

	out, err := run(t, "inspect", "db.events", "--config", cfgPath)
	require.NoError(t, err)
	require.Contains(t, out, "db.events")
	require.Contains(t, out, "ts_day")
	require.Contains(t, out, "owner")

	out, err = run(t, "inspect", "db.events", "--config", cfgPath, "--raw")
	require.NoError(t, err)
	require.Contains(t, out, `"format-version":1`)

	_, err = run(t, "inspect", "db.missing", "--config", cfgPath)
	require.ErrorIs(t, err, catalog.ErrNoSuchTable)
}

func TestSetProperty(t *testing.T) {
	cfgPath := warehouse(t)

	out, err := run(t, "set-property", "db.events", "retention=7d", "--remove", "owner", "--config", cfgPath)
	require.NoError(t, err)
	require.Contains(t, out, "retention")
	require.NotContains(t, out, "owner")

	_, err = run(t, "set-property", "db.events", "--config", cfgPath)
	require.ErrorContains(t, err, "nothing to change")

	_, err = run(t, "set-property", "db.events", "novalue", "--config", cfgPath)
	require.ErrorContains(t, err, "expected key=value")
}

func TestExpireNeedsSelection(t *testing.T) {
	cfgPath := warehouse(t)
	_, err := run(t, "expire-snapshots", "db.events", "--config", cfgPath)
	require.ErrorContains(t, err, "nothing to expire")
}

func TestLoadConfigRequiresExplicitFile(t *testing.T) {
	_, err := run(t, "inspect", "db.events", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"a=1", "b=x=y", "c="})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "x=y", "c": ""}, got)

	_, err = parseAssignments([]string{"=1"})
	require.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	require.NoError(t, setupLogger("debug", "json"))
	require.Error(t, setupLogger("verbose", "text"))
	require.Error(t, setupLogger("info", "xml"))
}

func TestDuckdbExtensions(t *testing.T) {
	c := config.Default()
	require.Empty(t, duckdbExtensions(c))
	c.Storage.Type = config.StorageS3
	require.Equal(t, []string{"httpfs"}, duckdbExtensions(c))
}
