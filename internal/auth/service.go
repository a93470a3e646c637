package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"tenantgate.io/internal/obs"
)

const defaultResetTTL = 15 * time.Minute

// Service provides credential, role and tenant operations over a Store.
type Service struct {
	store  Store
	now    func() time.Time
	logger logr.Logger

	resetSecret []byte
	resetTTL    time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithResetSecret sets the key used to sign password reset tokens.
func WithResetSecret(secret string) ServiceOption {
	return func(s *Service) error {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return errors.New("auth: reset secret is empty")
		}
		s.resetSecret = []byte(secret)
		return nil
	}
}

// WithResetTTL overrides how long a reset token stays redeemable.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLogger sets the component logger.
func WithLogger(l logr.Logger) ServiceOption {
	return func(s *Service) error {
		s.logger = l
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:    store,
		now:      time.Now,
		logger:   obs.Logger().WithName("auth"),
		resetTTL: defaultResetTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.resetSecret) == 0 {
		return nil, errors.New("auth: reset secret is required")
	}
	return svc, nil
}
