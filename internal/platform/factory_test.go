package platform_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pocket/internal/platform"
	"github.com/aretw0/pocket/pkg/core"
)

type note struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func TestNew_Directory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := platform.New(dir, platform.WithBackup(false))
	require.NoError(t, err)
	require.NoError(t, p.Register(&note{}, "Note"))
	require.NoError(t, p.Add(&note{Title: "hello"}))
	require.NoError(t, p.Store(ctx))
	require.NoError(t, p.Close())

	data, err := os.ReadFile(filepath.Join(dir, "Note.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"op_class\": \"Note\"")
	_, err = os.Stat(filepath.Join(dir, ".op_index"))
	assert.NoError(t, err)

	p2, err := platform.New(dir)
	require.NoError(t, err)
	defer p2.Close()
	require.NoError(t, p2.Register(&note{}, "Note"))
	assert.True(t, p2.Exists())
	require.NoError(t, p2.Load(ctx))
	notes, err := p2.FindAll(&note{})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "hello", notes[0].(*note).Title)
}

func TestNew_ConfigFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := "pretty: false\nserialize_nulls: true\nbackup: false\nfilenames:\n  Note: notes\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, platform.ConfigFile), []byte(cfg), 0644))

	p, err := platform.New(dir)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Register(&note{}, "Note"))
	require.NoError(t, p.Add(&note{Title: "t"}))
	require.NoError(t, p.Store(ctx))

	data, err := os.ReadFile(filepath.Join(dir, "notes.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"op_class":"Note"`)
	assert.Contains(t, string(data), `"tags":null`)
}

func TestNew_Backup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := platform.New(dir)
	require.NoError(t, err)
	require.NoError(t, p.Register(&note{}, "Note"))
	require.NoError(t, p.Add(&note{Title: "v1"}))
	require.NoError(t, p.Store(ctx))
	require.NoError(t, p.Add(&note{Title: "v2"}))
	require.NoError(t, p.Store(ctx))
	require.NoError(t, p.Close())

	entries, err := os.ReadDir(filepath.Join(dir, "_backups"))
	require.NoError(t, err)
	var zips int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".zip") {
			zips++
		}
	}
	assert.GreaterOrEqual(t, zips, 1)
}

func TestNewMemory(t *testing.T) {
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	p, err := platform.NewMemory(platform.WithMetricsRegisterer(reg))
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Register(&note{}, "Note"))
	require.NoError(t, p.Add(&note{Title: "in memory"}))
	blob := core.NewBlob("attachments/a.txt", []byte("attached"))
	require.NoError(t, p.Add(blob))
	require.NoError(t, p.Store(ctx))
	assert.True(t, p.Exists())

	require.NoError(t, p.Load(ctx))
	found, err := p.Find(blob.ID, &core.Blob{})
	require.NoError(t, err)
	data, err := found.(*core.Blob).Bytes()
	require.NoError(t, err)
	assert.Equal(t, "attached", string(data))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	assert.Equal(t, "memory", p.State().(core.PocketState).Source)
}

func TestNew_CustomFs(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewBasePathFs(afero.NewMemMapFs(), "/data")

	p, err := platform.New("virtual", platform.WithFs(fsys), platform.WithBackup(false), platform.WithVersioning(true))
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Register(&note{}, "Note"))
	require.NoError(t, p.Add(&note{Title: "x"}))
	require.NoError(t, p.Store(ctx))

	ok, err := afero.Exists(fsys, "Note.json")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNew_MetricsAlreadyRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := platform.NewMemory(platform.WithMetricsRegisterer(reg))
	require.NoError(t, err)
	defer p.Close()

	_, err = platform.NewMemory(platform.WithMetricsRegisterer(reg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to register metrics")
}
