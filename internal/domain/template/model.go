package template

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/anamnesis/anamnesis/internal/domain/questionnaire"
)

// Template maps to the questionnaire_template table. SchemaJSON holds the
// questionnaire schema as submitted; Version increases on every schema change.
type Template struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	TenantID    string          `db:"tenant_id" json:"tenantId"`
	Name        string          `db:"name" json:"name"`
	Description *string         `db:"description" json:"description,omitempty"`
	Version     int             `db:"version" json:"version"`
	SchemaJSON  json.RawMessage `db:"schema_json" json:"schemaJson"`
	CreatedBy   *string         `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// Schema parses and validates the stored schema.
func (t *Template) Schema() (*questionnaire.Schema, error) {
	return questionnaire.ParseSchema(t.SchemaJSON)
}
