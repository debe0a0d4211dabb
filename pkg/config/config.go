package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageType selects which tiers a shuffle server runs with
type StorageType string

const (
	StorageMemory              StorageType = "MEMORY"
	StorageMemoryLocalFile     StorageType = "MEMORY_LOCALFILE"
	StorageMemoryLocalFileHDFS StorageType = "MEMORY_LOCALFILE_HDFS"
	StorageMemoryHDFS          StorageType = "MEMORY_HDFS"
)

// HasLocal reports whether the type includes the local-disk tier
func (t StorageType) HasLocal() bool {
	return t == StorageMemoryLocalFile || t == StorageMemoryLocalFileHDFS
}

// HasRemote reports whether the type includes the remote tier
func (t StorageType) HasRemote() bool {
	return t == StorageMemoryLocalFileHDFS || t == StorageMemoryHDFS
}

// CoordinatorConfig configures a coordinator daemon
type CoordinatorConfig struct {
	RPCAddr     string `yaml:"rpcAddr"`
	MetricsAddr string `yaml:"metricsAddr"`

	// Heartbeat bookkeeping
	ServerHeartbeatTimeout time.Duration `yaml:"serverHeartbeatTimeout"`
	AppHeartbeatTimeout    time.Duration `yaml:"appHeartbeatTimeout"`

	// Access control: ordered checker names, see pkg/coordinator
	AccessCheckers           []string      `yaml:"accessCheckers"`
	AccessCandidatesPath     string        `yaml:"accessCandidatesPath"`
	AccessCandidatesInterval time.Duration `yaml:"accessCandidatesInterval"`
	AccessLoadServerNum      int           `yaml:"accessLoadServerNum"`

	// Remote storage roots handed to apps: each app gets the root serving the
	// fewest apps and keeps it
	RemoteStoragePaths []string `yaml:"remoteStoragePaths"`

	// Knob map served verbatim by fetchClientConf
	ClientConf map[string]string `yaml:"clientConf"`
}

// Validate fills defaults and rejects impossible settings
func (c *CoordinatorConfig) Validate() error {
	if c.RPCAddr == "" {
		c.RPCAddr = ":19999"
	}
	if c.ServerHeartbeatTimeout <= 0 {
		c.ServerHeartbeatTimeout = 30 * time.Second
	}
	if c.AppHeartbeatTimeout <= 0 {
		c.AppHeartbeatTimeout = 60 * time.Second
	}
	if c.AccessCandidatesInterval <= 0 {
		c.AccessCandidatesInterval = 60 * time.Second
	}
	if c.AccessLoadServerNum < 0 {
		return fmt.Errorf("accessLoadServerNum must be >= 0, got %d", c.AccessLoadServerNum)
	}
	return nil
}

// ServerConfig configures a shuffle server daemon
type ServerConfig struct {
	ID          string   `yaml:"id"`
	RPCAddr     string   `yaml:"rpcAddr"`
	MetricsAddr string   `yaml:"metricsAddr"`
	Tags        []string `yaml:"tags"`

	Coordinators []string `yaml:"coordinators"`

	StorageType StorageType `yaml:"storageType"`
	BasePath    string      `yaml:"basePath"`

	// Buffer pool
	BufferCapacity       int64 `yaml:"bufferCapacity"`
	BufferFlushThreshold int64 `yaml:"bufferFlushThreshold"`

	// Tier routing
	ColdStorageThresholdSize int64   `yaml:"coldStorageThresholdSize"`
	DiskCapacity             int64   `yaml:"diskCapacity"`
	DiskHighWatermark        float64 `yaml:"diskHighWatermark"`

	StorageRetryMax int `yaml:"storageRetryMax"`

	HeartbeatInterval   time.Duration `yaml:"heartbeatInterval"`
	AppHeartbeatTimeout time.Duration `yaml:"appHeartbeatTimeout"`
}

// Validate fills defaults and rejects impossible settings
func (c *ServerConfig) Validate() error {
	if c.RPCAddr == "" {
		c.RPCAddr = ":19997"
	}
	if c.StorageType == "" {
		c.StorageType = StorageMemoryLocalFile
	}
	switch c.StorageType {
	case StorageMemory, StorageMemoryLocalFile, StorageMemoryLocalFileHDFS, StorageMemoryHDFS:
	default:
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	if c.StorageType.HasLocal() && c.BasePath == "" {
		return fmt.Errorf("basePath is required for storage type %s", c.StorageType)
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = 2 << 30
	}
	if c.BufferFlushThreshold <= 0 {
		c.BufferFlushThreshold = 64 << 20
	}
	if c.ColdStorageThresholdSize <= 0 {
		c.ColdStorageThresholdSize = 64 << 20
	}
	if c.DiskCapacity <= 0 {
		c.DiskCapacity = 1 << 40
	}
	if c.DiskHighWatermark <= 0 || c.DiskHighWatermark > 1 {
		c.DiskHighWatermark = 0.95
	}
	if c.StorageRetryMax <= 0 {
		c.StorageRetryMax = 3
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.AppHeartbeatTimeout <= 0 {
		c.AppHeartbeatTimeout = 60 * time.Second
	}
	return nil
}

// ClientConfig configures the engine-linked write/read client
type ClientConfig struct {
	Coordinators []string `yaml:"coordinators"`

	Replica            int  `yaml:"replica"`
	ReplicaWrite       int  `yaml:"replicaWrite"`
	ReplicaRead        int  `yaml:"replicaRead"`
	ReplicaSkipEnabled bool `yaml:"replicaSkipEnabled"`

	DataTransferPoolSize int `yaml:"dataTransferPoolSize"`

	RetryMax         int           `yaml:"retryMax"`
	RetryIntervalMax time.Duration `yaml:"retryIntervalMax"`

	SendCheckInterval time.Duration `yaml:"sendCheckInterval"`
	SendCheckTimeout  time.Duration `yaml:"sendCheckTimeout"`

	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeatTimeout"`

	RPCTimeout time.Duration `yaml:"rpcTimeout"`
}

// Validate fills defaults and rejects impossible settings
func (c *ClientConfig) Validate() error {
	if len(c.Coordinators) == 0 {
		return fmt.Errorf("at least one coordinator address is required")
	}
	if c.Replica <= 0 {
		c.Replica = 1
	}
	if c.ReplicaWrite <= 0 {
		c.ReplicaWrite = c.Replica
	}
	if c.ReplicaRead <= 0 {
		c.ReplicaRead = 1
	}
	if c.ReplicaWrite > c.Replica {
		return fmt.Errorf("replicaWrite %d exceeds replica %d", c.ReplicaWrite, c.Replica)
	}
	if c.ReplicaRead > c.Replica {
		return fmt.Errorf("replicaRead %d exceeds replica %d", c.ReplicaRead, c.Replica)
	}
	if c.DataTransferPoolSize <= 0 {
		c.DataTransferPoolSize = 10
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryIntervalMax <= 0 {
		c.RetryIntervalMax = 2 * time.Second
	}
	if c.SendCheckInterval <= 0 {
		c.SendCheckInterval = 500 * time.Millisecond
	}
	if c.SendCheckTimeout <= 0 {
		c.SendCheckTimeout = 60 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Second
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = 10 * time.Second
	}
	return nil
}

// ApplyDynamic overlays the coordinator-served knob map onto the client
// config. A knob only takes effect where the local config left the zero
// value: explicit config wins over dynamic, dynamic wins over defaults.
// Call before Validate so remaining zeros still pick up defaults.
func (c *ClientConfig) ApplyDynamic(conf map[string]string) {
	if v, ok := conf["rss.data.replica"]; ok && c.Replica == 0 {
		fmt.Sscanf(v, "%d", &c.Replica)
	}
	if v, ok := conf["rss.data.replica.write"]; ok && c.ReplicaWrite == 0 {
		fmt.Sscanf(v, "%d", &c.ReplicaWrite)
	}
	if v, ok := conf["rss.data.replica.read"]; ok && c.ReplicaRead == 0 {
		fmt.Sscanf(v, "%d", &c.ReplicaRead)
	}
	if v, ok := conf["rss.data.replica.skip.enabled"]; ok && !c.ReplicaSkipEnabled {
		c.ReplicaSkipEnabled = v == "true"
	}
	if v, ok := conf["rss.client.retry.max"]; ok && c.RetryMax == 0 {
		fmt.Sscanf(v, "%d", &c.RetryMax)
	}
	if v, ok := conf["rss.client.data.transfer.pool.size"]; ok && c.DataTransferPoolSize == 0 {
		fmt.Sscanf(v, "%d", &c.DataTransferPoolSize)
	}
}

// Load reads a YAML config file into cfg
func Load(path string, cfg interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}
