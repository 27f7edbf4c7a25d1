package models

// ModelKind identifies one of the two locally managed models.
type ModelKind string

const (
	ModelEmbedding  ModelKind = "embedding"
	ModelGeneration ModelKind = "generation"
)

// Valid reports whether k is a known model kind.
func (k ModelKind) Valid() bool {
	return k == ModelEmbedding || k == ModelGeneration
}

// ModelState is the lifecycle state of a managed model.
type ModelState string

const (
	ModelIdle    ModelState = "idle"
	ModelLoading ModelState = "loading"
	ModelReady   ModelState = "ready"
	ModelError   ModelState = "error"
)

// ModelStatus is a point-in-time snapshot of a model's lifecycle.
// Progress is meaningful only while State is ModelLoading; Error is
// populated only when State is ModelError.
type ModelStatus struct {
	State    ModelState `json:"state"`
	Error    string     `json:"error,omitempty"`
	Progress int        `json:"progress"`
}

// Mode selects between the hosted inference gateway and on-device models.
type Mode string

const (
	ModeCloud Mode = "cloud"
	ModeLocal Mode = "local"
)

// Valid reports whether m is a known execution mode.
func (m Mode) Valid() bool {
	return m == ModeCloud || m == ModeLocal
}
