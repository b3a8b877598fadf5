// Package docstore keeps classrooms and attendance records in MongoDB.
package docstore

import (
	"context"
	"errors"
	"time"

	"classattend/internal/attendance"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store implements attendance.ClassroomStore and attendance.AttendanceStore.
// The attendance collection carries a unique index on the idempotency key.
type Store struct {
	classrooms  *mongo.Collection
	enrollments *mongo.Collection
	records     *mongo.Collection
}

// Connect dials uri and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// New binds the store to db.
func New(db *mongo.Database) *Store {
	return &Store{
		classrooms:  db.Collection("classrooms"),
		enrollments: db.Collection("enrollments"),
		records:     db.Collection("attendance"),
	}
}

// EnsureIndexes creates the unique indexes the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.records.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "classCode", Value: 1},
			{Key: "studentId", Value: 1},
			{Key: "date", Value: 1},
			{Key: "subject", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("attendance_key"),
	})
	if err != nil {
		return err
	}
	_, err = s.enrollments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "classCode", Value: 1}, {Key: "studentId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("enrollment_key"),
	})
	return err
}

// GetClassroom loads a classroom document by id.
func (s *Store) GetClassroom(ctx context.Context, id string) (attendance.Classroom, error) {
	var c attendance.Classroom
	err := s.classrooms.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return attendance.Classroom{}, attendance.ErrClassroomNotFound
	}
	return c, err
}

// ListEnrolledStudents returns the roster of a class code.
func (s *Store) ListEnrolledStudents(ctx context.Context, classCode string) ([]attendance.Student, error) {
	cur, err := s.enrollments.Find(ctx, bson.M{"classCode": classCode},
		options.Find().SetSort(bson.D{{Key: "studentId", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var students []attendance.Student
	if err := cur.All(ctx, &students); err != nil {
		return nil, err
	}
	return students, nil
}

// ListClassroomIDs returns every classroom id.
func (s *Store) ListClassroomIDs(ctx context.Context) ([]string, error) {
	cur, err := s.classrooms.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// FindRecord looks a record up by its idempotency key.
func (s *Store) FindRecord(ctx context.Context, key attendance.Key) (*attendance.Record, error) {
	var rec attendance.Record
	err := s.records.FindOne(ctx, keyFilter(key)).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateRecord inserts rec; a unique index violation becomes ErrDuplicate.
func (s *Store) CreateRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	if _, err := s.records.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return attendance.Record{}, attendance.ErrDuplicate
		}
		return attendance.Record{}, err
	}
	return rec, nil
}

// PutClassroom upserts a classroom document.
func (s *Store) PutClassroom(ctx context.Context, c attendance.Classroom) error {
	_, err := s.classrooms.ReplaceOne(ctx, bson.M{"_id": c.ID}, c, options.Replace().SetUpsert(true))
	return err
}

// Enroll upserts students into a class code.
func (s *Store) Enroll(ctx context.Context, classCode string, students ...attendance.Student) error {
	for _, st := range students {
		_, err := s.enrollments.UpdateOne(ctx,
			bson.M{"classCode": classCode, "studentId": st.ID},
			bson.M{"$set": bson.M{"displayName": st.DisplayName}},
			options.Update().SetUpsert(true))
		if err != nil {
			return err
		}
	}
	return nil
}

func keyFilter(k attendance.Key) bson.M {
	return bson.M{
		"classCode": k.ClassCode,
		"studentId": k.StudentID,
		"date":      k.Date,
		"subject":   k.Subject,
	}
}
