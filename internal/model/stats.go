package model

// ContainerStat is the reconstructed per-container view with derived
// per-second rates. Sent to sequence-cursor subscribers as rows and
// held in the stats cache for the read surface.
type ContainerStat struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Image      string  `json:"image,omitempty"`
	Timestamp  int64   `json:"timestamp"`
	CPUPercent float64 `json:"cpu_percent"`
	MemUsage   uint64  `json:"memory_usage"`
	MemLimit   uint64  `json:"memory_limit"`
	MemPercent float64 `json:"memory_percent"`
	NetRxSec   float64 `json:"network_rx_bytes_per_sec"`
	NetTxSec   float64 `json:"network_tx_bytes_per_sec"`
	BlkReadSec float64 `json:"block_read_bytes_per_sec"`
	BlkWrtSec  float64 `json:"block_write_bytes_per_sec"`
}

// PoolStat describes one storage-pool entity (pool, vdev or leaf disk).
type PoolStat struct {
	EntityPath  string  `json:"entity_path"`
	Timestamp   int64   `json:"timestamp"`
	Health      string  `json:"health,omitempty"`
	SizeBytes   uint64  `json:"size_bytes,omitempty"`
	AllocBytes  uint64  `json:"alloc_bytes,omitempty"`
	FreeBytes   uint64  `json:"free_bytes,omitempty"`
	CapPercent  float64 `json:"capacity_percent"`
	ReadOpsSec  float64 `json:"read_ops_per_sec"`
	WriteOpsSec float64 `json:"write_ops_per_sec"`
	ReadBytSec  float64 `json:"read_bytes_per_sec"`
	WriteBytSec float64 `json:"write_bytes_per_sec"`
}

// VMStat describes one guest (qemu VM or lxc container) on the
// virtualization cluster.
type VMStat struct {
	EntityPath   string  `json:"entity_path"` // node/type/vmid
	Name         string  `json:"name"`
	Node         string  `json:"node"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	Timestamp    int64   `json:"timestamp"`
	CPUPercent   float64 `json:"cpu_percent"`
	MemUsage     uint64  `json:"memory_usage"`
	MemMax       uint64  `json:"memory_max"`
	MemPercent   float64 `json:"memory_percent"`
	NetInSec     float64 `json:"network_rx_bytes_per_sec"`
	NetOutSec    float64 `json:"network_tx_bytes_per_sec"`
	DiskReadSec  float64 `json:"disk_read_bytes_per_sec"`
	DiskWriteSec float64 `json:"disk_write_bytes_per_sec"`
	UptimeSec    int64   `json:"uptime_seconds"`
}

// HostStat is the local machine snapshot produced by the host source.
type HostStat struct {
	Hostname    string  `json:"hostname"`
	Timestamp   int64   `json:"timestamp"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemUsage    uint64  `json:"memory_usage"`
	MemTotal    uint64  `json:"memory_total"`
	MemPercent  float64 `json:"memory_percent"`
	Load1       float64 `json:"load1"`
	NetRxSec    float64 `json:"network_rx_bytes_per_sec"`
	NetTxSec    float64 `json:"network_tx_bytes_per_sec"`
	DiskUsedPct float64 `json:"disk_used_percent"`
}
