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

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{
		"logLevel": "debug",
		"unit": { "url": "ws://robot.local:8765/channel", "secret": "s3cret" },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrold.cfg.json"), []byte(cfg), 0644))

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "ws://robot.local:8765/channel", viper.GetString("unit.url"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrold.cfg.json"), []byte(`{}`), 0644))

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./patrollogs", viper.GetString("logsDir"))
	assert.Equal(t, "ws://localhost:8765/channel", viper.GetString("unit.url"))
	assert.Equal(t, "", viper.GetString("unit.secret"))
	assert.Equal(t, "http://localhost:5000", viper.GetString("api.serverUrl"))
	assert.Equal(t, "", viper.GetString("api.apiKey"))
	assert.Equal(t, "sqlite", viper.GetString("store.type"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "postgres", viper.GetString("db.username"))
	assert.Equal(t, "postgres", viper.GetString("db.password"))
	assert.Equal(t, "patrol", viper.GetString("db.database"))
	assert.Equal(t, "./patrol.db", viper.GetString("db.sqlitePath"))
	assert.Equal(t, "5s", viper.GetString("detections.flushInterval"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, "patrol-metrics", viper.GetString("influx.org"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, false, viper.GetBool("otel.enabled"))
	assert.Equal(t, "patrold", viper.GetString("otel.serviceName"))
	assert.Equal(t, "5s", viper.GetString("otel.batchTimeout"))
	assert.Equal(t, "", viper.GetString("otel.endpoint"))
	assert.Equal(t, true, viper.GetBool("otel.insecure"))
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
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

func TestGetUnitConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{ "unit": { "url": "ws://10.1.1.5:8765/channel", "secret": "hunter2" } }`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrold.cfg.json"), []byte(cfg), 0644))
	require.NoError(t, Load(dir))

	uc := GetUnitConfig()
	assert.Equal(t, "ws://10.1.1.5:8765/channel", uc.URL)
	assert.Equal(t, "hunter2", uc.Secret)
}

func TestGetOTelConfig_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrold.cfg.json"), []byte(`{}`), 0644))
	require.NoError(t, Load(dir))

	oc := GetOTelConfig()
	assert.Equal(t, false, oc.Enabled)
	assert.Equal(t, "patrold", oc.ServiceName)
	assert.Equal(t, 5*time.Second, oc.BatchTimeout)
	assert.Equal(t, "", oc.Endpoint)
	assert.Equal(t, true, oc.Insecure)
}

func TestGetOTelConfig_Override(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{
		"otel": {
			"enabled": true,
			"serviceName": "my-service",
			"batchTimeout": "30s",
			"endpoint": "localhost:4317",
			"insecure": false
		}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrold.cfg.json"), []byte(cfg), 0644))
	require.NoError(t, Load(dir))

	oc := GetOTelConfig()
	assert.Equal(t, true, oc.Enabled)
	assert.Equal(t, "my-service", oc.ServiceName)
	assert.Equal(t, 30*time.Second, oc.BatchTimeout)
	assert.Equal(t, "localhost:4317", oc.Endpoint)
	assert.Equal(t, false, oc.Insecure)
}
