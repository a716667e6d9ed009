package dsbridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudshims/dsbridge/memstub"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(heredoc.Doc(`
		project_id: myapp
		addr: 127.0.0.1:8081
		host: datastore.local:8081
		require_host: true
		datastore_path: /tmp/data.db
	`)), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "myapp", cfg.ProjectID)
	assert.Equal(t, "127.0.0.1:8081", cfg.Addr)
	assert.Equal(t, "datastore.local:8081", cfg.Host)
	assert.True(t, cfg.RequireHost)
	assert.Equal(t, "/tmp/data.db", cfg.DatastorePath)
	assert.Equal(t, "dev~myapp", cfg.AppID())
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestNewRequiresProject(t *testing.T) {
	s, err := memstub.New("dev~myapp")
	require.NoError(t, err)
	defer s.Close()

	_, err = New(&Config{Addr: "127.0.0.1:0"}, s, nil)
	require.Error(t, err)

	srv, err := New(&Config{ProjectID: "myapp", Addr: "127.0.0.1:0"}, s, nil)
	require.NoError(t, err)
	assert.NotNil(t, srv)
}
