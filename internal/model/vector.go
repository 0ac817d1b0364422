package model

// Vector is a (memory_id, sector) keyed dense float32 payload.
type Vector struct {
	MemoryID string
	Sector   string // may carry the "_cold" suffix
	UserID   string
	Values   []float32
	Dim      int
}

// NewVector builds a Vector record, setting Dim from len(values).
func NewVector(memoryID string, sector string, userID string, values []float32) Vector {
	return Vector{MemoryID: memoryID, Sector: sector, UserID: userID, Values: values, Dim: len(values)}
}

// Waypoint is a directed weighted edge between two memories.
type Waypoint struct {
	SrcID     string
	DstID     string
	UserID    string
	Weight    float64
	CreatedAt int64 // ms epoch
	UpdatedAt int64
}

// ClampWeight clamps w.Weight into [0, 1].
func (w *Waypoint) ClampWeight() {
	if w.Weight < 0 {
		w.Weight = 0
	}
	if w.Weight > 1 {
		w.Weight = 1
	}
}

// UserProfile is the per-user natural-language rollup.
type UserProfile struct {
	UserID          string
	Summary         string
	ReflectionCount int
	CreatedAt       int64
	UpdatedAt       int64
	Metadata        map[string]any
}

// ClassifierModel is the per-user learned linear classifier.
type ClassifierModel struct {
	UserID    string
	Weights   map[Sector][]float64
	Biases    map[Sector]float64
	Version   int
	UpdatedAt int64
}

// EmbedLogStatus enumerates embed-log lifecycle states.
type EmbedLogStatus string

const (
	EmbedPending   EmbedLogStatus = "pending"
	EmbedCompleted EmbedLogStatus = "completed"
	EmbedFailed    EmbedLogStatus = "failed"
)

// EmbedLog is an observability row for an embedding call.
type EmbedLog struct {
	ID     string
	Model  string
	Status EmbedLogStatus
	TS     int64
	Err    string
	UserID string
}

// StatEvent is an append-only counter row (decay/reflect/retrain/orphan cycles).
type StatEvent struct {
	ID     string
	Kind   string
	UserID string
	Count  int
	TS     int64
}

// MaintLog is a structured record of a maintenance step.
type MaintLog struct {
	ID       string
	Step     string
	UserID   string
	Detail   string
	Err      string
	TS       int64
	Duration int64 // ms
}
