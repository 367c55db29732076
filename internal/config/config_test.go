package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"db": { "host": "10.0.0.1", "port": "5433" },
		"game": { "nearbyRadiusMeters": 2500 }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
	assert.Equal(t, 2500.0, GetGameConfig().NearbyRadiusMeters)
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "postgres", viper.GetString("db.username"))
	assert.Equal(t, "postgres", viper.GetString("db.password"))
	assert.Equal(t, "warhead", viper.GetString("db.database"))
	assert.Equal(t, ":3000", viper.GetString("http.listenAddr"))
	assert.Equal(t, 64, viper.GetInt("events.bufferSize"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoadOrDefault(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		t.Cleanup(viper.Reset)

		found, err := LoadOrDefault(t.TempDir())
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, "memory", GetStorageConfig().Type)
	})

	t.Run("present file is read", func(t *testing.T) {
		t.Cleanup(viper.Reset)

		found, err := LoadOrDefault(writeConfig(t, `{"storage": {"type": "sqlite"}}`))
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "sqlite", GetStorageConfig().Type)
	})

	t.Run("malformed file fails", func(t *testing.T) {
		t.Cleanup(viper.Reset)

		_, err := LoadOrDefault(writeConfig(t, `{not json`))
		require.Error(t, err)
	})
}

func TestEnvironmentOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("WARHEAD_COMBAT_RECOVERYPOLICY", "resolve")
	t.Setenv("WARHEAD_HTTP_LISTENADDR", ":9090")

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "resolve", GetCombatConfig().RecoveryPolicy)
	assert.Equal(t, ":9090", GetHTTPConfig().ListenAddr)
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.Equal(t, true, GetBool("testBool"))
}

func TestGetDuration(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testDuration", "45s")
	assert.Equal(t, 45*time.Second, GetDuration("testDuration"))
}

func TestGetStorageConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	cfg := GetStorageConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, "", cfg.SQLite.Path)
	assert.Equal(t, 3*time.Minute, cfg.SQLite.DumpInterval)
	assert.Equal(t, "warhead", cfg.DB.Database)
}

func TestGetStorageConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"sqlite": { "path": "/tmp/w.db", "dumpPath": "/tmp/dump.db", "dumpInterval": "10m" }
		}
	}`)
	require.NoError(t, Load(dir))

	sc := GetStorageConfig()
	assert.Equal(t, "sqlite", sc.Type)
	assert.Equal(t, "/tmp/w.db", sc.SQLite.Path)
	assert.Equal(t, "/tmp/dump.db", sc.SQLite.DumpPath)
	assert.Equal(t, 10*time.Minute, sc.SQLite.DumpInterval)
}

func TestGetCombatConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	cc := GetCombatConfig()
	assert.Equal(t, 30*time.Second, cc.MaxFlightDuration)
	assert.Equal(t, "destroy", cc.RecoveryPolicy)
	assert.Equal(t, 10*time.Second, cc.RecoveryInterval)
	assert.Equal(t, 25, cc.DefaultDamage)

	gc := GetGameConfig()
	assert.Equal(t, 5000.0, gc.NearbyRadiusMeters)
	assert.Equal(t, 100, gc.StartingShield)
	assert.Equal(t, time.Second, gc.IndexRebuildInterval)

	assert.Equal(t, time.Duration(0), GetOwnershipConfig().SyncInterval)
	assert.Empty(t, GetOwnershipConfig().LedgerFile)
}

func TestGetInfluxConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{"influx": {"enabled": true, "host": "influx", "port": "9999", "protocol": "https"}}`)))

	ic := GetInfluxConfig()
	assert.True(t, ic.Enabled)
	assert.Equal(t, "https://influx:9999", ic.URL())
	assert.Equal(t, "warhead", ic.Org)
	assert.Equal(t, "combat_events", ic.Bucket)
	assert.Equal(t, "./logs/influx_backup.lp.gz", ic.BackupPath)
}

func TestGetLoggingConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{"logLevel": "warn", "graylog": {"enabled": true, "address": "gl:12201"}}`)))

	lc := GetLoggingConfig()
	assert.Equal(t, "warn", lc.Level)
	assert.Equal(t, "./logs", lc.Dir)
	assert.True(t, lc.GraylogEnabled)
	assert.Equal(t, "gl:12201", lc.GraylogAddress)
}

func TestGetOTelConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Cleanup(viper.Reset)
		require.NoError(t, Load(writeConfig(t, `{}`)))

		oc := GetOTelConfig()
		assert.False(t, oc.Enabled)
		assert.Equal(t, "warhead", oc.ServiceName)
		assert.Equal(t, 5*time.Second, oc.BatchTimeout)
		assert.Empty(t, oc.Endpoint)
		assert.True(t, oc.Insecure)
	})

	t.Run("override", func(t *testing.T) {
		t.Cleanup(viper.Reset)
		require.NoError(t, Load(writeConfig(t, `{"otel": {"enabled": true, "endpoint": "http://collector:4318", "insecure": false, "batchTimeout": "1s"}}`)))

		oc := GetOTelConfig()
		assert.True(t, oc.Enabled)
		assert.Equal(t, "http://collector:4318", oc.Endpoint)
		assert.False(t, oc.Insecure)
		assert.Equal(t, time.Second, oc.BatchTimeout)
	})
}

func TestGetHTTPConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Cleanup(viper.Reset)
		require.NoError(t, Load(writeConfig(t, `{}`)))

		hc := GetHTTPConfig()
		assert.Equal(t, ":3000", hc.ListenAddr)
		assert.Equal(t, 10, hc.RateLimitRequests)
		assert.Equal(t, 15*time.Second, hc.RateLimitWindow)
		assert.Empty(t, hc.AllowedOrigins)
	})

	t.Run("file", func(t *testing.T) {
		t.Cleanup(viper.Reset)
		require.NoError(t, Load(writeConfig(t, `{"http": {"rateLimit": {"requests": 0}, "allowedOrigins": ["https://a.example", "https://b.example"]}}`)))

		hc := GetHTTPConfig()
		assert.Equal(t, 0, hc.RateLimitRequests)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, hc.AllowedOrigins)
	})

	t.Run("comma separated environment", func(t *testing.T) {
		t.Cleanup(viper.Reset)
		t.Setenv("WARHEAD_HTTP_ALLOWEDORIGINS", "https://a.example, https://b.example")
		require.NoError(t, Load(writeConfig(t, `{}`)))

		assert.Equal(t, []string{"https://a.example", "https://b.example"}, GetHTTPConfig().AllowedOrigins)
	})
}
