package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/practice-ranking/internal/domain"
)

// AccountService manages profiles and custom claims
type AccountService struct {
	profiles ProfileStore
	claims   ClaimStore
	logger   *slog.Logger
}

// NewAccountService creates a new account service
func NewAccountService(profiles ProfileStore, claims ClaimStore, logger *slog.Logger) *AccountService {
	return &AccountService{
		profiles: profiles,
		claims:   claims,
		logger:   logger,
	}
}

// Profile returns a user's profile with its badges
func (s *AccountService) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	return s.profiles.GetProfile(ctx, userID)
}

// SaveProfile creates or renames a profile
func (s *AccountService) SaveProfile(ctx context.Context, userID, displayName string) error {
	displayName = strings.TrimSpace(displayName)
	if userID == "" || displayName == "" {
		return domain.ErrInvalidRequest
	}
	if err := s.profiles.UpsertProfile(ctx, userID, displayName); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

// SetClaim stores a custom claim for a user
func (s *AccountService) SetClaim(ctx context.Context, userID, key string, value any) error {
	if userID == "" || key == "" {
		return domain.ErrInvalidRequest
	}
	if err := s.claims.SetClaim(ctx, userID, key, value); err != nil {
		return fmt.Errorf("setting claim %s: %w", key, err)
	}
	s.logger.Info("claim set", "user_id", userID, "claim", key)
	return nil
}

// MarkProfileVerified flags that the user finished creating a profile
func (s *AccountService) MarkProfileVerified(ctx context.Context, userID string) error {
	if _, err := s.profiles.GetProfile(ctx, userID); err != nil {
		return err
	}
	return s.SetClaim(ctx, userID, domain.ClaimHasProfile, true)
}

// Claims returns the custom claims of a user
func (s *AccountService) Claims(ctx context.Context, userID string) (domain.Claims, error) {
	return s.claims.GetClaims(ctx, userID)
}

// IsAdmin reports whether the user holds the admin claim
func (s *AccountService) IsAdmin(ctx context.Context, userID string) (bool, error) {
	claims, err := s.claims.GetClaims(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("reading claims: %w", err)
	}
	return claims.Enabled(domain.ClaimAdmin), nil
}
