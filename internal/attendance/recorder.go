package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"classattend/internal/metrics"
)

// RecordResult reports whether RecordIfAbsent wrote a record.
type RecordResult struct {
	Created  bool
	Record   Record
	Existing *Record
}

// Recorder writes at most one record per key.
type Recorder struct {
	store   AttendanceStore
	locker  Locker
	timeout time.Duration
	log     logrus.FieldLogger
	newID   func() string
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithLocker serialises lookup and create per key. Needed only when the
// store cannot reject duplicates itself.
func WithLocker(l Locker) RecorderOption {
	return func(r *Recorder) { r.locker = l }
}

// WithCallTimeout bounds every store call.
func WithCallTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.timeout = d }
}

// WithRecorderLogger sets the logger.
func WithRecorderLogger(l logrus.FieldLogger) RecorderOption {
	return func(r *Recorder) { r.log = l }
}

// NewRecorder creates a recorder over store.
func NewRecorder(store AttendanceStore, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		timeout: 5 * time.Second,
		log:     logrus.StandardLogger(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordIfAbsent creates the record for key unless one exists. An existing
// record is returned untouched whatever its status.
func (r *Recorder) RecordIfAbsent(ctx context.Context, key Key, c Candidate) (RecordResult, error) {
	if !c.Status.Valid() {
		return RecordResult{}, fmt.Errorf("record %s: invalid status %q", key, c.Status)
	}
	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, "attendance:"+key.String())
		if err != nil {
			return RecordResult{}, wrapStoreErr("lock record", err)
		}
		defer unlock()
	}

	existing, err := r.find(ctx, key)
	if err != nil {
		return RecordResult{}, err
	}
	if existing != nil {
		return RecordResult{Existing: existing}, nil
	}

	rec := Record{
		ID:          r.newID(),
		ClassCode:   key.ClassCode,
		StudentID:   key.StudentID,
		Date:        key.Date,
		Subject:     key.Subject,
		Status:      c.Status,
		Timestamp:   c.Timestamp,
		SubmittedAt: c.SubmittedAt,
		ProofRef:    c.ProofRef,
		Excuse:      c.Excuse,
		Source:      c.Source,
	}
	cctx, cancel := r.callContext(ctx)
	created, err := r.store.CreateRecord(cctx, rec)
	cancel()
	if errors.Is(err, ErrDuplicate) {
		// Another writer won the key between lookup and create.
		r.log.WithField("key", key.String()).Debug("record created concurrently")
		metrics.DuplicateConflicts.Inc()
		existing, ferr := r.find(ctx, key)
		if ferr != nil {
			return RecordResult{}, ferr
		}
		return RecordResult{Existing: existing}, nil
	}
	if err != nil {
		return RecordResult{}, wrapStoreErr("create record", err)
	}
	metrics.RecordsCreated.WithLabelValues(string(created.Status), string(created.Source)).Inc()
	return RecordResult{Created: true, Record: created}, nil
}

func (r *Recorder) find(ctx context.Context, key Key) (*Record, error) {
	cctx, cancel := r.callContext(ctx)
	defer cancel()
	rec, err := r.store.FindRecord(cctx, key)
	if err != nil {
		return nil, wrapStoreErr("find record", err)
	}
	return rec, nil
}

func (r *Recorder) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
