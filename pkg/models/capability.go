package models

// Capability describes whether accelerated local compute is usable.
//
// Supported=false means the host exposes no GPU compute API at all.
// Supported=true with Available=false means the API exists but no usable
// device could be acquired; Reason explains why. EstimatedMemoryMB is a
// conservative heuristic, never a measurement guarantee.
type Capability struct {
	Reason            string `json:"reason,omitempty"`
	EstimatedMemoryMB int    `json:"estimated_memory_mb"`
	Supported         bool   `json:"supported"`
	Available         bool   `json:"available"`
}
