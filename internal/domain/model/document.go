package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"doc-ingest/internal/domain"
)

// Document is the subject row a job refers to by id.
type Document struct {
	ID          string
	Tenant      string
	Filename    string
	ContentType string
	Source      []byte
	CreatedAt   time.Time
}

func NewDocument(id, tenant, filename, contentType string, source []byte) (*Document, error) {
	if err := ValidateTenant(tenant); err != nil {
		return nil, err
	}
	if len(source) == 0 {
		return nil, fmt.Errorf("%w: empty document source", domain.ErrInvalidArgument)
	}
	if id == "" {
		id = uuid.NewString()
	}
	if contentType == "" {
		contentType = "text/plain"
	}
	return &Document{
		ID:          id,
		Tenant:      tenant,
		Filename:    filename,
		ContentType: contentType,
		Source:      source,
		CreatedAt:   time.Now(),
	}, nil
}

// ValidateTenant rejects names that could escape a tenant's key namespace.
func ValidateTenant(tenant string) error {
	if strings.TrimSpace(tenant) == "" {
		return fmt.Errorf("%w: empty tenant", domain.ErrInvalidTenant)
	}
	if strings.ContainsAny(tenant, "/:{}*? \t\n") {
		return fmt.Errorf("%w: %q contains reserved characters", domain.ErrInvalidTenant, tenant)
	}
	return nil
}
