package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/anamnesis/anamnesis/internal/domain/questionnaire"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Session maps to the response_session table: one subject's run through a
// template version.
type Session struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	TenantID          string     `db:"tenant_id" json:"tenantId"`
	TemplateID        uuid.UUID  `db:"template_id" json:"templateId"`
	TemplateVersion   int        `db:"template_version" json:"templateVersion"`
	SubjectID         *uuid.UUID `db:"subject_id" json:"subjectId,omitempty"`
	Status            Status     `db:"status" json:"status"`
	FillToken         *string    `db:"fill_token" json:"fillToken,omitempty"`
	SignatureName     *string    `db:"signature_name" json:"signatureName,omitempty"`
	SignatureAgreedAt *time.Time `db:"signature_agreed_at" json:"signatureAgreedAt,omitempty"`
	CompletedAt       *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CreatedBy         *string    `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updatedAt"`
}

func (s *Session) Completed() bool { return s.Status == StatusCompleted }
func (s *Session) Signed() bool    { return s.SignatureAgreedAt != nil }

// Submission maps to the answer_submission table. Submissions are never
// updated; the latest one holds the current answers.
type Submission struct {
	ID        uuid.UUID               `db:"id" json:"id"`
	SessionID uuid.UUID               `db:"session_id" json:"sessionId"`
	Answers   questionnaire.AnswerMap `db:"answers_json" json:"answers"`
	CreatedAt time.Time               `db:"created_at" json:"createdAt"`
}

// FillLink is the public URL handed to a subject.
type FillLink struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// TokenRef locates the session a fill token belongs to.
type TokenRef struct {
	TenantID  string
	SessionID uuid.UUID
}

// ListFilter narrows List results. Zero fields match everything.
type ListFilter struct {
	TemplateID *uuid.UUID
	Status     Status
}

// View is a session together with its current answers.
type View struct {
	*Session
	Answers questionnaire.AnswerMap `json:"answers"`
}

// SubmitResult is the outcome of an answer submission.
type SubmitResult struct {
	Session    *Session               `json:"session"`
	Submission *Submission            `json:"submission"`
	Decision   questionnaire.Decision `json:"decision"`
}
