package jobs

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
)

// MemoryDSN returns a shared-cache in-memory DSN with a fresh name, so every
// store opened with it has a database of its own.
func MemoryDSN() string {
	return "file:drumscribe-" + uuid.NewString() + "?mode=memory&cache=shared"
}

type jobRecord struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Status    string `gorm:"index:idx_job_status"`
	Message   string
	MidiURL   string
	PdfURL    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (jobRecord) TableName() string { return "jobs" }

func (r jobRecord) toJob() Job {
	j := Job{
		ID:        r.ID,
		Status:    Status(r.Status),
		Message:   r.Message,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if j.Status == StatusCompleted && (r.MidiURL != "" || r.PdfURL != "") {
		j.Results = &Results{MidiURL: r.MidiURL, PdfURL: r.PdfURL}
	}
	return j
}

func fromJob(j Job) jobRecord {
	r := jobRecord{
		ID:        j.ID,
		Status:    string(j.Status),
		Message:   j.Message,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Results != nil {
		r.MidiURL = j.Results.MidiURL
		r.PdfURL = j.Results.PdfURL
	}
	return r
}

// SQLStore is a Store on SQLite through gorm. Opening it empties the jobs
// table, so records never survive a restart.
type SQLStore struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// OpenSQLStore opens dsn, or a private in-memory database when dsn is empty.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	if dsn == "" {
		dsn = MemoryDSN()
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	// A shared-cache memory database lives as long as one connection does.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.AutoMigrate(&jobRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&jobRecord{}).Error; err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("clearing jobs: %w", err)
	}

	return &SQLStore{db: db, sqlDB: sqlDB}, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLStore) Create(id string) (Job, error) {
	now := time.Now()
	job := Job{ID: id, Status: StatusPending, Message: MsgWaiting, CreatedAt: now, UpdatedAt: now}
	rec := fromJob(job)
	if err := s.db.Save(&rec).Error; err != nil {
		return Job{}, fmt.Errorf("creating job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLStore) Update(id string, status Status, message string, results *Results) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var rec jobRecord
		err := tx.First(&rec, "id = ?", id).Error
		exists := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("loading job %s: %w", id, err)
		}

		next := fromJob(apply(rec.toJob(), exists, id, status, message, results, time.Now()))
		if err := tx.Save(&next).Error; err != nil {
			return fmt.Errorf("saving job %s: %w", id, err)
		}
		return nil
	})
}

func (s *SQLStore) Get(id string) (Job, error) {
	var rec jobRecord
	err := s.db.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Job{}, fmt.Errorf("%s: %w", id, apperrors.ErrJobNotFound)
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	return rec.toJob(), nil
}
