package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil when unset", func(t *testing.T) {
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		assert.Nil(t, GetAppIdentity())
	})

	t.Run("returns goflash identity", func(t *testing.T) {
		id := GetAppIdentity()
		if assert.NotNil(t, id) {
			assert.Equal(t, "goflash", id.BinaryName)
			assert.Equal(t, "GOFLASH", id.EnvPrefix)
			assert.Equal(t, "goflash", id.ConfigName)
		}
	})
}

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setDefaults()

	assert.Equal(t, "localhost", viper.GetString("server.host"))
	assert.Equal(t, 9876, viper.GetInt("server.port"))
	assert.Equal(t, "30s", viper.GetString("server.read_timeout"))
	assert.Equal(t, "300s", viper.GetString("server.write_timeout"))
	assert.Equal(t, "120s", viper.GetString("server.idle_timeout"))
	assert.Equal(t, "10s", viper.GetString("server.shutdown_timeout"))

	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "json", viper.GetString("logging.format"))

	assert.Equal(t, 150, viper.GetInt("workspace.capacity"))
	assert.Equal(t, "300ms", viper.GetString("workspace.poll_interval"))
	assert.Equal(t, "main.ino", viper.GetString("workspace.source_file"))
	assert.True(t, viper.GetBool("scan.usb_only"))
	assert.Equal(t, "platformio", viper.GetString("pio.executable"))
	assert.True(t, viper.GetBool("jobs.enabled"))
}

func TestNormalizeLegacyArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "regular command untouched",
			in:   []string{"compile", "--board", "uno"},
			want: []string{"compile", "--board", "uno"},
		},
		{
			name: "build child contract",
			in:   []string{"--board", "uno", "--workSpace", "/ws/1", "parallelCompile"},
			want: []string{"parallel-compile", "--board", "uno", "--workSpace", "/ws/1"},
		},
		{
			name: "upload contract",
			in:   []string{"--board", "uno", "--workSpace", "/ws/2", "--upload", "--port", "COM3", "parallelCompile"},
			want: []string{"parallel-compile", "--board", "uno", "--workSpace", "/ws/2", "--upload", "--port", "COM3"},
		},
		{
			name: "empty",
			in:   []string{},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeLegacyArgs(tt.in))
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))

	err := exitError(foundry.ExitFileNotFound, "missing", errors.New("boom"))
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(err))
	assert.Equal(t, foundry.ExitFileNotFound, ExitCode(fmt.Errorf("wrapped: %w", err)))
	assert.Contains(t, err.Error(), "missing: boom")
}
