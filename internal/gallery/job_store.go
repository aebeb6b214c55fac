package gallery

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Job lifecycle statuses. completed and faulted are terminal.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFaulted    = "faulted"
)

// Job tracks one submitted generation job per owner.
type Job struct {
	ID            int64     `json:"id"`
	JobID         string    `json:"jobId"`
	WalletAddress string    `json:"walletAddress"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Error         string    `json:"error,omitempty"`
}

// JobStore handles generation job records.
type JobStore struct {
	db *gorm.DB
}

// NewJobStore wraps an open DB handle.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// AddJob creates a queued job record for the wallet.
func (s *JobStore) AddJob(wallet, jobID string) (*Job, error) {
	now := time.Now()
	model := JobModel{
		JobID:         jobID,
		WalletAddress: strings.ToLower(wallet),
		Status:        JobQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.Create(&model).Error; err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	job := jobFromModel(model)
	return &job, nil
}

// UpdateStatus moves a job forward. Transitions out of a terminal status are
// refused so a late poll cannot regress a completed or faulted job.
func (s *JobStore) UpdateStatus(jobID, status, errMsg string) error {
	return s.db.Model(&JobModel{}).
		Where("job_id = ? AND status NOT IN ?", jobID, []string{JobCompleted, JobFaulted}).
		Updates(map[string]any{
			"status":     status,
			"error":      errMsg,
			"updated_at": time.Now(),
		}).Error
}

// JobsByWallet returns the wallet's jobs, newest first.
func (s *JobStore) JobsByWallet(wallet string, limit int) ([]Job, error) {
	var models []JobModel
	tx := s.db.Where("wallet_address = ?", strings.ToLower(wallet)).Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	return jobsFromModels(models), nil
}

// PendingByWallet returns the wallet's queued and processing jobs.
func (s *JobStore) PendingByWallet(wallet string) ([]Job, error) {
	var models []JobModel
	err := s.db.
		Where("wallet_address = ? AND status IN ?", strings.ToLower(wallet), []string{JobQueued, JobProcessing}).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return jobsFromModels(models), nil
}

// Job returns a single job, or nil when absent.
func (s *JobStore) Job(jobID string) (*Job, error) {
	var model JobModel
	if err := s.db.First(&model, "job_id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	job := jobFromModel(model)
	return &job, nil
}

func jobFromModel(m JobModel) Job {
	return Job{
		ID:            m.ID,
		JobID:         m.JobID,
		WalletAddress: m.WalletAddress,
		Status:        m.Status,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Error:         m.Error,
	}
}

func jobsFromModels(models []JobModel) []Job {
	jobs := make([]Job, 0, len(models))
	for _, m := range models {
		jobs = append(jobs, jobFromModel(m))
	}
	return jobs
}
