package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a generation job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a background generation job
type Job struct {
	ID           string    `json:"id"`
	Node         string    `json:"node"`
	RunID        string    `json:"run_id,omitempty"`
	Status       JobStatus `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	URLsListed   int64     `json:"urls_listed"`
	FilesWritten int64     `json:"files_written"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Publish      bool      `json:"publish"`

	// Internal fields
	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager manages background generation jobs
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	bynode map[string]string // node -> jobID for running jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		bynode: make(map[string]string),
	}
}

// CreateJob creates a new job for a node
func (m *JobManager) CreateJob(node string, publish bool) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check if a job is already running for this node
	if existingJobID, exists := m.bynode[node]; exists {
		existingJob := m.jobs[existingJobID]
		if existingJob != nil && (existingJob.Status == JobStatusPending || existingJob.Status == JobStatusRunning) {
			return existingJob, nil // Return existing running job
		}
	}

	// Create new job
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:          uuid.New().String(),
		Node:      node,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		Publish:   publish,
		ctx:       ctx,
		cancel:    cancel,
	}

	m.jobs[job.ID] = job
	m.bynode[node] = job.ID

	return job, nil
}

// GetJob retrieves a job by ID
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[jobID]
}

// GetJobByNode retrieves the current job for a node
func (m *JobManager) GetJobByNode(node string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.bynode[node]; exists {
		return m.jobs[jobID]
	}
	return nil
}

// IsRunning checks if a job is currently running for a node
func (m *JobManager) IsRunning(node string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.bynode[node]; exists {
		job := m.jobs[jobID]
		return job != nil && (job.Status == JobStatusPending || job.Status == JobStatusRunning)
	}
	return false
}

// UpdateStatus updates the status of a job
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		job.Status = status
		if status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled {
			job.CompletedAt = time.Now()
			// Remove from bynode to allow new jobs
			delete(m.bynode, job.Node)
		}
		if errorMsg != "" {
			job.ErrorMessage = errorMsg
		}
	}
}

// UpdateProgress records the run a job belongs to and what it produced
func (m *JobManager) UpdateProgress(jobID, runID string, urls, files int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		job.RunID = runID
		job.URLsListed = urls
		job.FilesWritten = files
	}
}

// CancelJob cancels a running job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		if job.Status == JobStatusPending || job.Status == JobStatusRunning {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
			delete(m.bynode, job.Node)
			return true
		}
	}
	return false
}

// CancelAll cancels all running jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status == JobStatusPending || job.Status == JobStatusRunning {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.bynode = make(map[string]string)
}

// ListJobs returns all jobs
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// GetContext returns the context for a job (for running the generator)
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, exists := m.jobs[jobID]; exists {
		return job.ctx
	}
	return context.Background()
}
