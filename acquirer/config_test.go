package acquirer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acquirer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: "127.0.0.1:7000"
repo_backend: redis
redis_addr: "127.0.0.1:6379"
redis_db: 2
`), 0o600))

	t.Setenv("PAN_HASH_KEY", "from-env")
	t.Setenv("REPO_BACKEND", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_DB", "")
	t.Setenv("ALLOW_MEM_BACKEND_FOR_TESTS", "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7000", cfg.HTTPAddr)
	require.Equal(t, "redis", cfg.RepoBackend)
	require.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	require.Equal(t, 2, cfg.RedisDB)
	require.Equal(t, "from-env", cfg.PANHashKey)
	require.False(t, cfg.AllowMemBackend)
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("REPO_BACKEND", "")
	t.Setenv("HTTP_ADDR", "")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().HTTPAddr, cfg.HTTPAddr)
	require.Equal(t, "pg", cfg.RepoBackend)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_BadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "two")
	_, err := LoadConfig("")
	require.Error(t, err)
}
