package cmd

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalHealthChecker(t *testing.T) {
	t.Run("zero value returns nil", func(t *testing.T) {
		err := signalHealthChecker{}.CheckHealth(context.Background())
		assert.NoError(t, err)
	})

	t.Run("fails once shutdown starts", func(t *testing.T) {
		var flag atomic.Bool
		checker := signalHealthChecker{shuttingDown: &flag}
		require.NoError(t, checker.CheckHealth(context.Background()))

		flag.Store(true)
		err := checker.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "shutdown in progress")
	})
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    false,
		},
		{
			name:       "missing binary name",
			binaryName: "",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "myapp",
			envPrefix:  "",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServeOverrides(t *testing.T) {
	cmd := &cobra.Command{}
	var host string
	var port int
	cmd.Flags().StringVar(&host, "host", "", "")
	cmd.Flags().IntVar(&port, "port", 0, "")

	assert.Empty(t, serveOverrides(cmd))

	require.NoError(t, cmd.Flags().Set("port", "9999"))
	servePort = 9999
	defer func() { servePort = 0 }()

	got := serveOverrides(cmd)
	assert.Equal(t, map[string]any{"server.port": 9999}, got)
}
