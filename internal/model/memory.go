package model

import "time"

// Memory is the primary entity, owned by a user.
type Memory struct {
	ID        string
	UserID    string
	Segment   int
	Content   string // stored encrypted when encryption is enabled
	SimHash   string // 16-hex, 64-bit fingerprint
	Primary   Sector
	Tags      []string
	Metadata  map[string]any

	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastSeenAt time.Time

	Salience    float64
	DecayLambda float64
	Version     int

	MeanDim int
	MeanVec []float32 // fused cross-sector vector, raw float32

	// CompressedVec holds a low-dim mean vector written by ingest when
	// tier=smart. The query path never reads it back.
	CompressedVec []float32

	FeedbackScore    float64
	GeneratedSummary string
}

// AdditionalSectors reads metadata["additional_sectors"] as a sector list.
func (m *Memory) AdditionalSectors() []Sector {
	if m.Metadata == nil {
		return nil
	}
	raw, ok := m.Metadata["additional_sectors"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []Sector:
		return v
	case []string:
		out := make([]Sector, 0, len(v))
		for _, s := range v {
			out = append(out, Sector(s))
		}
		return out
	case []any:
		out := make([]Sector, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, Sector(str))
			}
		}
		return out
	}
	return nil
}

// SetAdditionalSectors writes the additional-sector list back into metadata.
func (m *Memory) SetAdditionalSectors(sectors []Sector) {
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	strs := make([]string, len(sectors))
	for i, s := range sectors {
		strs[i] = string(s)
	}
	m.Metadata["additional_sectors"] = strs
}

// AllSectorsOf returns [primary] followed by additional sectors, deduplicated.
func (m *Memory) AllSectorsOf() []Sector {
	out := []Sector{m.Primary}
	seen := map[Sector]bool{m.Primary: true}
	for _, s := range m.AdditionalSectors() {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// IsCold reports whether the memory has been demoted to cold storage.
func (m *Memory) IsCold() bool { return m.GeneratedSummary != "" }

// ClampSalience clamps the memory's salience into [0, 1].
func (m *Memory) ClampSalience() {
	if m.Salience < 0 {
		m.Salience = 0
	}
	if m.Salience > 1 {
		m.Salience = 1
	}
}
