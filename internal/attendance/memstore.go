package attendance

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process ClassroomStore and AttendanceStore for
// dev/testing. CreateRecord is atomic per key.
type MemoryStore struct {
	mu         sync.RWMutex
	classrooms map[string]Classroom
	rosters    map[string][]Student
	records    map[Key]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classrooms: make(map[string]Classroom),
		rosters:    make(map[string][]Student),
		records:    make(map[Key]Record),
	}
}

// PutClassroom adds or replaces a classroom.
func (m *MemoryStore) PutClassroom(c Classroom) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classrooms[c.ID] = c
}

// Enroll adds students to a class code's roster.
func (m *MemoryStore) Enroll(classCode string, students ...Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rosters[classCode] = append(m.rosters[classCode], students...)
}

// SetStatus mimics an external review step changing a record's status.
func (m *MemoryStore) SetStatus(key Key, status Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return false
	}
	rec.Status = status
	m.records[key] = rec
	return true
}

// Records returns a snapshot of all stored records.
func (m *MemoryStore) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

func (m *MemoryStore) GetClassroom(ctx context.Context, id string) (Classroom, error) {
	if err := ctx.Err(); err != nil {
		return Classroom{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classrooms[id]
	if !ok {
		return Classroom{}, ErrClassroomNotFound
	}
	return c, nil
}

func (m *MemoryStore) ListEnrolledStudents(ctx context.Context, classCode string) ([]Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Student(nil), m.rosters[classCode]...), nil
}

func (m *MemoryStore) ListClassroomIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.classrooms))
	for id := range m.classrooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) FindRecord(ctx context.Context, key Key) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) CreateRecord(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Key()]; ok {
		return Record{}, ErrDuplicate
	}
	m.records[rec.Key()] = rec
	return rec, nil
}
