package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
	}{
		{name: "missing coordinators", cfg: ClientConfig{}, wantErr: true},
		{name: "minimal valid", cfg: ClientConfig{Coordinators: []string{"c1:19999"}}},
		{
			name:    "replicaWrite above replica",
			cfg:     ClientConfig{Coordinators: []string{"c1:19999"}, Replica: 2, ReplicaWrite: 3},
			wantErr: true,
		},
		{
			name:    "replicaRead above replica",
			cfg:     ClientConfig{Coordinators: []string{"c1:19999"}, Replica: 2, ReplicaRead: 3},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClientConfigDefaults(t *testing.T) {
	cfg := ClientConfig{Coordinators: []string{"c1:19999"}}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1, cfg.Replica)
	assert.Equal(t, 1, cfg.ReplicaWrite)
	assert.Equal(t, 1, cfg.ReplicaRead)
	assert.Equal(t, 10, cfg.DataTransferPoolSize)
	assert.Equal(t, 3, cfg.RetryMax)
	assert.NotZero(t, cfg.RPCTimeout)
}

// TestApplyDynamic tests the precedence chain: explicit config wins over
// dynamic, dynamic wins over defaults
func TestApplyDynamic(t *testing.T) {
	cfg := ClientConfig{
		Coordinators: []string{"c1:19999"},
		Replica:      3, // explicit, must survive
	}
	cfg.ApplyDynamic(map[string]string{
		"rss.data.replica":       "5",
		"rss.data.replica.write": "2",
		"rss.client.retry.max":   "7",
	})
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Replica, "explicit config must win over dynamic")
	assert.Equal(t, 2, cfg.ReplicaWrite, "dynamic must fill unset knobs")
	assert.Equal(t, 7, cfg.RetryMax)
	assert.Equal(t, 1, cfg.ReplicaRead, "defaults fill the rest")
}

func TestServerConfigValidate(t *testing.T) {
	cfg := ServerConfig{RPCAddr: "127.0.0.1:19997", StorageType: StorageMemoryLocalFile}
	assert.Error(t, cfg.Validate(), "local storage requires a base path")

	cfg.BasePath = t.TempDir()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.95, cfg.DiskHighWatermark)
	assert.NotZero(t, cfg.BufferCapacity)

	bad := ServerConfig{RPCAddr: "127.0.0.1:19997", StorageType: "TAPE"}
	assert.Error(t, bad.Validate())
}

func TestStorageTypeTiers(t *testing.T) {
	assert.False(t, StorageMemory.HasLocal())
	assert.False(t, StorageMemory.HasRemote())
	assert.True(t, StorageMemoryLocalFile.HasLocal())
	assert.False(t, StorageMemoryLocalFile.HasRemote())
	assert.True(t, StorageMemoryLocalFileHDFS.HasLocal())
	assert.True(t, StorageMemoryLocalFileHDFS.HasRemote())
	assert.False(t, StorageMemoryHDFS.HasLocal())
	assert.True(t, StorageMemoryHDFS.HasRemote())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	content := `
rpcAddr: "127.0.0.1:19999"
serverHeartbeatTimeout: 45s
accessCheckers:
  - AccessCandidatesChecker
remoteStoragePaths:
  - hdfs://nn1:8020/rss
clientConf:
  rss.data.replica: "3"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := &CoordinatorConfig{}
	require.NoError(t, Load(path, cfg))
	assert.Equal(t, "127.0.0.1:19999", cfg.RPCAddr)
	assert.Equal(t, 45*time.Second, cfg.ServerHeartbeatTimeout)
	assert.Equal(t, []string{"AccessCandidatesChecker"}, cfg.AccessCheckers)
	assert.Equal(t, "3", cfg.ClientConf["rss.data.replica"])

	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.yaml"), cfg))
}
