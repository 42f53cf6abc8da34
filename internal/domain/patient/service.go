package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Register(ctx context.Context, p *Patient) error {
	if strings.TrimSpace(p.FullName) == "" {
		return fmt.Errorf("full_name is required")
	}
	if p.Kind == "" {
		p.Kind = KindRegular
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("invalid patient kind: %s", p.Kind)
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// ChangeKind moves a patient between billing categories, e.g. on NHIA enrolment.
func (s *Service) ChangeKind(ctx context.Context, id uuid.UUID, kind Kind) (*Patient, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid patient kind: %s", kind)
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Kind = kind
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
