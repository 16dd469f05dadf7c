package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/miocrobos/habicht-directory/internal/domain/club"
	"github.com/miocrobos/habicht-directory/internal/domain/league"
)

// DirectoryService answers read queries against the canonical store.
type DirectoryService struct {
	clubs club.Repository
}

func NewDirectoryService(clubs club.Repository) *DirectoryService {
	return &DirectoryService{clubs: clubs}
}

type ClubDetails struct {
	Club      club.Club            `json:"club"`
	Conflicts []club.MergeConflict `json:"conflicts,omitempty"`
}

func (s *DirectoryService) GetByID(ctx context.Context, id int64) (ClubDetails, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.DirectoryService.GetByID")
	defer span.End()

	if id <= 0 {
		return ClubDetails{}, fmt.Errorf("%w: club id must be positive", ErrInvalidInput)
	}
	c, found, err := s.clubs.GetByID(ctx, id)
	if err != nil {
		return ClubDetails{}, fmt.Errorf("get club %d: %w", id, err)
	}
	if !found {
		return ClubDetails{}, fmt.Errorf("%w: club %d", ErrNotFound, id)
	}
	return s.details(ctx, c)
}

func (s *DirectoryService) GetByAlias(ctx context.Context, alias string) (ClubDetails, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.DirectoryService.GetByAlias")
	defer span.End()

	alias = strings.TrimSpace(alias)
	if alias == "" {
		return ClubDetails{}, fmt.Errorf("%w: alias is required", ErrInvalidInput)
	}
	c, found, err := s.clubs.FindByAlias(ctx, alias)
	if err != nil {
		return ClubDetails{}, fmt.Errorf("find club by alias %q: %w", alias, err)
	}
	if !found {
		c, found, err = s.clubs.FindByKey(ctx, alias)
		if err != nil {
			return ClubDetails{}, fmt.Errorf("find club by key %q: %w", alias, err)
		}
	}
	if !found {
		return ClubDetails{}, fmt.Errorf("%w: club alias %q", ErrNotFound, alias)
	}
	return s.details(ctx, c)
}

func (s *DirectoryService) ListByLeague(ctx context.Context, level league.Level, gender league.Gender) ([]club.Club, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.DirectoryService.ListByLeague")
	defer span.End()

	if !level.Valid() {
		return nil, fmt.Errorf("%w: league level %q", ErrInvalidInput, level)
	}
	if gender != league.GenderMen && gender != league.GenderWomen {
		return nil, fmt.Errorf("%w: gender %q", ErrInvalidInput, gender)
	}
	clubs, err := s.clubs.ListByLeague(ctx, level, gender)
	if err != nil {
		return nil, fmt.Errorf("list clubs by league %s/%s: %w", level, gender, err)
	}
	return clubs, nil
}

func (s *DirectoryService) details(ctx context.Context, c club.Club) (ClubDetails, error) {
	conflicts, err := s.clubs.ListConflicts(ctx, c.ID)
	if err != nil {
		return ClubDetails{}, fmt.Errorf("list conflicts for club %d: %w", c.ID, err)
	}
	return ClubDetails{Club: c, Conflicts: conflicts}, nil
}
