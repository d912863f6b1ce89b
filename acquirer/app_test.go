package acquirer_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonanatree/offlinepay/acquirer"
)

func TestApp(t *testing.T) {
	config := acquirer.DefaultConfig()
	config.HTTPAddr = "127.0.0.1:0"
	config.RepoBackend = "mem"
	config.AllowMemBackend = true

	app := acquirer.NewApp(discardLogger(), config)
	require.NoError(t, app.Start())
	t.Cleanup(app.Shutdown)

	for _, path := range []string{"/-/live", "/-/ready", "/settlements"} {
		resp, err := http.Get("http://" + app.Addr + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestApp_StoreSelection(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*acquirer.Config)
	}{
		{"memory store needs explicit opt in", func(c *acquirer.Config) { c.RepoBackend = "mem" }},
		{"postgres needs a dsn", func(c *acquirer.Config) { c.RepoBackend = "pg"; c.DBDSN = "" }},
		{"redis needs an address", func(c *acquirer.Config) { c.RepoBackend = "redis"; c.RedisAddr = "" }},
		{"unknown backend", func(c *acquirer.Config) { c.RepoBackend = "etcd" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			config := acquirer.DefaultConfig()
			config.HTTPAddr = "127.0.0.1:0"
			tt.mutate(config)

			app := acquirer.NewApp(discardLogger(), config)
			require.Error(t, app.Start())
		})
	}
}
