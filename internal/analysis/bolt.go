package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const bucketName = "analyses"

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random v4 UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// errDuplicateID signals an ID collision inside a bolt transaction
var errDuplicateID = errors.New("duplicate id")

// BoltStore implements the Store interface using BoltDB
type BoltStore struct {
	db          *bbolt.DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewBoltStore creates a new BoltStore instance
func NewBoltStore(path string) (*BoltStore, error) {
	return NewBoltStoreWithDeps(path, &uuidGenerator{}, &defaultTimeSource{})
}

// NewBoltStoreWithDeps creates a new BoltStore with custom dependencies for testing
func NewBoltStoreWithDeps(path string, idGen IDGenerator, timeSrc TimeSource) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{
		db:          db,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}, nil
}

// Create saves a new record. IDs are never overwritten.
func (b *BoltStore) Create(ctx context.Context, imageData, analysisText string) (string, error) {
	record := &Record{
		ID:           b.idGenerator.Generate(),
		ImageData:    imageData,
		AnalysisText: analysisText,
		CreatedAt:    b.timeSource.Now(),
	}
	if record.ID == "" {
		return "", fmt.Errorf("%w: empty id generated", ErrStoreWrite)
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(record.ID)) != nil {
			return errDuplicateID
		}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return bucket.Put([]byte(record.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	return record.ID, nil
}

// Get retrieves a record by ID
func (b *BoltStore) Get(ctx context.Context, id string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &record)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	return record, nil
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
