package model

// Source identifiers. Each source has exactly one authoritative
// collector per process.
const (
	SourceContainers = "containers"
	SourcePools      = "pools"
	SourceVMs        = "vms"
	SourceHost       = "host"
)

// Sample is a single persisted measurement. Seq is assigned by the
// store at insert time and is the sole ordering authority for
// incremental delivery; timestamps are informational only.
type Sample struct {
	Seq        int64   `json:"seq,omitempty"`
	Timestamp  int64   `json:"timestamp"` // unix milliseconds
	Source     string  `json:"source"`
	EntityPath string  `json:"entity_path"` // e.g. "host/containerid", "tank/raidz1-0/sda"
	Metric     string  `json:"metric"`
	Value      float64 `json:"value"`
}

// Change announces that new rows exist for a source. MaxSeq is the
// sequence of the last row of the batch that triggered the signal.
type Change struct {
	Source string `json:"source"`
	MaxSeq int64  `json:"max_seq"`
}

// Metadata is a slowly-changing entity attribute (display name, image,
// tags). Written only when the value actually changes.
type Metadata struct {
	Source     string `json:"source"`
	EntityPath string `json:"entity_path"`
	Key        string `json:"key"`
	Value      string `json:"value"`
}
