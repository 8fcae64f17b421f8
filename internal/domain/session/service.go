package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anamnesis/anamnesis/internal/domain/questionnaire"
	"github.com/anamnesis/anamnesis/internal/platform/db"
)

const fillTokenBytes = 32

type Service struct {
	repo      Repository
	templates TemplateSource
	publicURL string
	logger    zerolog.Logger

	now      func() time.Time
	newToken func() (string, error)
	inTx     func(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewService creates a session service. publicURL is the base of the
// links returned by GenerateFillLink.
func NewService(repo Repository, templates TemplateSource, publicURL string, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		templates: templates,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.With().Str("component", "session").Logger(),
		now:       time.Now,
		newToken:  generateFillToken,
		inTx:      db.InTx,
	}
}

func generateFillToken() (string, error) {
	b := make([]byte, fillTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate fill token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create starts an in-progress session pinned to the template's current
// version.
func (s *Service) Create(ctx context.Context, templateID uuid.UUID, subjectID *uuid.UUID, createdBy *string) (*Session, error) {
	tpl, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		TenantID:        db.TenantFromContext(ctx),
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		SubjectID:       subjectID,
		Status:          StatusInProgress,
		CreatedBy:       createdBy,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("session_id", sess.ID.String()).
		Str("template_id", tpl.ID.String()).
		Int("template_version", tpl.Version).
		Msg("session created")
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Session, int, error) {
	if filter.Status != "" && filter.Status != StatusInProgress && filter.Status != StatusCompleted {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, filter.Status)
	}
	return s.repo.List(ctx, filter, limit, offset)
}

// View returns the session with its current answers.
func (s *Service) View(ctx context.Context, id uuid.UUID) (*View, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	answers, err := s.currentAnswers(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{Session: sess, Answers: answers}, nil
}

// CurrentAnswers returns the answers of the latest submission, or an empty
// map when nothing was submitted yet.
func (s *Service) CurrentAnswers(ctx context.Context, id uuid.UUID) (questionnaire.AnswerMap, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.currentAnswers(ctx, id)
}

func (s *Service) currentAnswers(ctx context.Context, id uuid.UUID) (questionnaire.AnswerMap, error) {
	sub, err := s.repo.LatestSubmission(ctx, id)
	if errors.Is(err, ErrNoSubmission) {
		return questionnaire.AnswerMap{}, nil
	}
	if err != nil {
		return nil, err
	}
	return sub.Answers, nil
}

func (s *Service) Submissions(ctx context.Context, id uuid.UUID) ([]*Submission, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListSubmissions(ctx, id)
}

func (s *Service) schema(ctx context.Context, sess *Session) (*questionnaire.Schema, error) {
	tpl, err := s.templates.GetTemplateVersion(ctx, sess.TemplateID, sess.TemplateVersion)
	if err != nil {
		return nil, fmt.Errorf("load template %s v%d: %w", sess.TemplateID, sess.TemplateVersion, err)
	}
	return tpl.Schema()
}

// NextQuestion evaluates the session's schema against answers. A nil map
// selects the stored current answers.
func (s *Service) NextQuestion(ctx context.Context, id uuid.UUID, answers questionnaire.AnswerMap) (questionnaire.Decision, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return questionnaire.Decision{}, err
	}
	schema, err := s.schema(ctx, sess)
	if err != nil {
		return questionnaire.Decision{}, err
	}
	if answers == nil {
		if answers, err = s.currentAnswers(ctx, id); err != nil {
			return questionnaire.Decision{}, err
		}
	} else if err := questionnaire.ValidateAnswers(schema, answers); err != nil {
		return questionnaire.Decision{}, err
	}
	return questionnaire.GetNextQuestion(schema, answers), nil
}

// Submit records answers as the session's current answers. When nothing is
// left to ask the session is completed in the same transaction. Completed
// sessions reject submissions with ErrCompleted and nothing is written.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, answers questionnaire.AnswerMap) (*SubmitResult, error) {
	if answers == nil {
		answers = questionnaire.AnswerMap{}
	}
	var result *SubmitResult
	err := s.inTx(ctx, func(ctx context.Context) error {
		sess, err := s.repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if sess.Completed() {
			return ErrCompleted
		}
		schema, err := s.schema(ctx, sess)
		if err != nil {
			return err
		}
		if err := questionnaire.ValidateAnswers(schema, answers); err != nil {
			return err
		}
		decision := questionnaire.GetNextQuestion(schema, answers)

		sub := &Submission{SessionID: id, Answers: answers}
		if err := s.repo.AppendSubmission(ctx, sub); err != nil {
			return err
		}
		if decision.Completed() {
			at := s.now().UTC()
			if err := s.repo.Complete(ctx, id, at); err != nil {
				return err
			}
			sess.Status = StatusCompleted
			sess.CompletedAt = &at
		}
		result = &SubmitResult{Session: sess, Submission: sub, Decision: decision}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ev := s.logger.Info().
		Str("session_id", id.String()).
		Str("submission_id", result.Submission.ID.String()).
		Int("completion_percent", result.Decision.CompletionPercent)
	if result.Session.Completed() {
		ev.Msg("session completed")
	} else {
		ev.Msg("answers submitted")
	}
	return result, nil
}

// Sign records the signer and completes the session regardless of the
// remaining questions. The fill token stops working afterwards.
func (s *Service) Sign(ctx context.Context, id uuid.UUID, signerName string) (*Session, error) {
	signerName = strings.TrimSpace(signerName)
	if signerName == "" {
		return nil, fmt.Errorf("%w: signatureName is required", ErrInvalidRequest)
	}
	var sess *Session
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if sess.Signed() {
			return ErrAlreadySigned
		}
		at := s.now().UTC()
		if err := s.repo.SetSignature(ctx, id, signerName, at); err != nil {
			return err
		}
		sess.SignatureName = &signerName
		sess.SignatureAgreedAt = &at
		if sess.CompletedAt == nil {
			sess.CompletedAt = &at
		}
		sess.Status = StatusCompleted
		sess.FillToken = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", id.String()).Msg("session signed")
	return sess, nil
}

// GenerateFillLink issues a new fill token for an in-progress session,
// replacing any previous one.
func (s *Service) GenerateFillLink(ctx context.Context, id uuid.UUID) (*FillLink, error) {
	var link *FillLink
	err := s.inTx(ctx, func(ctx context.Context) error {
		sess, err := s.repo.Lock(ctx, id)
		if err != nil {
			return err
		}
		if sess.Completed() {
			return ErrCompleted
		}
		token, err := s.newToken()
		if err != nil {
			return err
		}
		if err := s.repo.SetFillToken(ctx, sess.TenantID, id, token); err != nil {
			return err
		}
		link = &FillLink{Token: token, URL: s.publicURL + "/" + token}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", id.String()).Msg("fill link issued")
	return link, nil
}

// ResolveFillToken finds the tenant and session a token belongs to. It
// needs no tenant in ctx.
func (s *Service) ResolveFillToken(ctx context.Context, token string) (*TokenRef, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.repo.FindByFillToken(ctx, token)
}

// SessionForToken loads the session a token grants access to. ctx must be
// bound to the token's tenant. Tokens that were replaced or revoked by
// signing resolve to ErrNotFound.
func (s *Service) SessionForToken(ctx context.Context, ref *TokenRef, token string) (*Session, error) {
	sess, err := s.repo.GetByID(ctx, ref.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.FillToken == nil || *sess.FillToken != token {
		return nil, ErrNotFound
	}
	return sess, nil
}
