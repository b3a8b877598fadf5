package attendance

import (
	"encoding/json"
	"fmt"
	"io"
)

// Seed is the JSON fixture format used to populate a store at startup.
type Seed struct {
	Classrooms  []Classroom          `json:"classrooms"`
	Enrollments map[string][]Student `json:"enrollments"`
}

// ReadSeed decodes a seed document. Classrooms without an id or code are
// rejected; session times are not checked here since the classifier skips
// malformed sessions.
func ReadSeed(r io.Reader) (Seed, error) {
	var s Seed
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Seed{}, fmt.Errorf("seed: %w", err)
	}
	for i, c := range s.Classrooms {
		if c.ID == "" || c.Code == "" {
			return Seed{}, fmt.Errorf("seed: classroom %d needs id and code", i)
		}
	}
	return s, nil
}

// Apply loads s into the memory store.
func (m *MemoryStore) Apply(s Seed) {
	for _, c := range s.Classrooms {
		m.PutClassroom(c)
	}
	for code, students := range s.Enrollments {
		m.Enroll(code, students...)
	}
}
