package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/joelkehle/contract-review/internal/contractreview"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var ErrNotFound = errors.New("submission not found")

// Submission tracks one analysis request from upload to result. Response is
// the encoded ResponseEnvelope once the run has finished, successful or not.
type Submission struct {
	Token     string                   `json:"token"`
	CaseID    string                   `json:"case_id"`
	Filename  string                   `json:"filename,omitempty"`
	Status    Status                   `json:"status"`
	State     contractreview.State     `json:"pipeline_state"`
	ErrorKind contractreview.ErrorKind `json:"error_kind,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Response  []byte                   `json:"-"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

func (s Submission) Done() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

type Store interface {
	Create(ctx context.Context, caseID, filename string) (Submission, error)
	Get(ctx context.Context, token string) (Submission, error)
	SetState(ctx context.Context, token string, state contractreview.State) error
	Complete(ctx context.Context, token string, response []byte) error
	Fail(ctx context.Context, token string, kind contractreview.ErrorKind, message string, response []byte) error
	List(ctx context.Context, limit int) ([]Submission, error)
	Close() error
}

func generateToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func newSubmission(caseID, filename string, now time.Time) Submission {
	return Submission{
		Token:     generateToken(),
		CaseID:    caseID,
		Filename:  filename,
		Status:    StatusQueued,
		State:     contractreview.StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// statusForState maps a pipeline state onto the coarse submission status.
func statusForState(state contractreview.State) Status {
	switch state {
	case contractreview.StateIdle:
		return StatusQueued
	case contractreview.StateComplete:
		return StatusCompleted
	case contractreview.StateFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}
