// Package store persists scans and their findings in BoltDB.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	scanerrors "github.com/MikhailDrugie/se-attack-modeling/internal/errors"
	"github.com/MikhailDrugie/se-attack-modeling/pkg/analyzer"
)

var (
	bucketScans = []byte("scans")
	bucketVulns = []byte("vulnerabilities")
)

// ErrScanNotFound is returned when a scan ID has no record.
var ErrScanNotFound = fmt.Errorf("scan not found")

// ScanStatus is the lifecycle state of a scan.
type ScanStatus int

// Scan lifecycle states.
const (
	StatusPending ScanStatus = iota + 1
	StatusRunning
	StatusCompleted
	StatusFailed
)

// String implements fmt.Stringer.
func (s ScanStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the status is final.
func (s ScanStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ScanRecord is one persisted scan.
type ScanRecord struct {
	ID          uint64     `json:"id"`
	Target      string     `json:"target,omitempty"`
	ArchivePath string     `json:"archive_path,omitempty"`
	Status      ScanStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Store is a BoltDB-backed scan store. Scan records live in one
// bucket keyed by big-endian ID; findings live in per-scan nested
// buckets under the vulnerabilities bucket.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, scanerrors.NewStorageError("create directory", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, scanerrors.NewStorageError("open database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketScans); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketVulns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, scanerrors.NewStorageError("create buckets", err)
	}

	return &Store{db: db, path: path}, nil
}

// CreateScan inserts a new pending scan and returns its record.
func (s *Store) CreateScan(target, archivePath string) (*ScanRecord, error) {
	record := &ScanRecord{
		Target:      target,
		ArchivePath: archivePath,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScans)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		record.ID = id

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put(scanKey(id), data)
	})
	if err != nil {
		return nil, scanerrors.NewStorageError("create scan", err)
	}
	return record, nil
}

// GetScan loads a scan record. Missing IDs return ErrScanNotFound.
func (s *Store) GetScan(id uint64) (*ScanRecord, error) {
	var record ScanRecord
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketScans).Get(scanKey(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, scanerrors.NewStorageError("get scan", err)
	}
	if !found {
		return nil, ErrScanNotFound
	}
	return &record, nil
}

// UpdateStatus transitions a scan. Terminal statuses stamp
// FinishedAt; scanErr is recorded for failures.
func (s *Store) UpdateStatus(id uint64, status ScanStatus, scanErr error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScans)
		data := b.Get(scanKey(id))
		if data == nil {
			return ErrScanNotFound
		}

		var record ScanRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}

		record.Status = status
		if status.Terminal() {
			now := time.Now().UTC()
			record.FinishedAt = &now
		}
		if scanErr != nil {
			record.Error = scanErr.Error()
		}

		updated, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		return b.Put(scanKey(id), updated)
	})
	if err == ErrScanNotFound {
		return err
	}
	if err != nil {
		return scanerrors.NewStorageError("update status", err)
	}
	return nil
}

// SaveVulnerabilities appends findings to a scan's nested bucket.
func (s *Store) SaveVulnerabilities(scanID uint64, vulns []analyzer.Vulnerability) error {
	if len(vulns) == 0 {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketVulns)
		b, err := parent.CreateBucketIfNotExists(scanKey(scanID))
		if err != nil {
			return err
		}

		for i := range vulns {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(&vulns[i])
			if err != nil {
				return err
			}
			if err := b.Put(scanKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return scanerrors.NewStorageError("save vulnerabilities", err)
	}
	return nil
}

// ListVulnerabilities returns a scan's findings in insertion order.
func (s *Store) ListVulnerabilities(scanID uint64) ([]analyzer.Vulnerability, error) {
	var vulns []analyzer.Vulnerability

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVulns).Bucket(scanKey(scanID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, data []byte) error {
			var v analyzer.Vulnerability
			if err := json.Unmarshal(data, &v); err != nil {
				return err
			}
			vulns = append(vulns, v)
			return nil
		})
	})
	if err != nil {
		return nil, scanerrors.NewStorageError("list vulnerabilities", err)
	}
	return vulns, nil
}

// ListScans returns all scan records ordered by ID.
func (s *Store) ListScans() ([]*ScanRecord, error) {
	var records []*ScanRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketScans).ForEach(func(_, data []byte) error {
			var record ScanRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, scanerrors.NewStorageError("list scans", err)
	}
	return records, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
