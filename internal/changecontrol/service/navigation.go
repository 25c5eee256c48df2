package service

import (
	"context"

	"steward/internal/catalog"
	id "steward/pkg/domain"
)

// VisibleDomains lists the console domains actor can reach, in menu order.
func (s *Service) VisibleDomains(actor id.Principal) []id.Domain {
	return s.gate.VisibleDomains(actor, catalog.AllDomains())
}

// CurrentDomain returns the domain actor is in.
func (s *Service) CurrentDomain(actor id.Principal) id.Domain {
	return s.navigator.Current(actor)
}

// Navigate switches actor to d. A denied switch returns the unchanged current
// domain alongside the guard violation.
func (s *Service) Navigate(ctx context.Context, actor id.Principal, d id.Domain) (current id.Domain, err error) {
	ctx, done := s.begin(ctx, "navigate", "")
	defer func() { done(err) }()

	if err := requireActor(actor); err != nil {
		return "", err
	}
	return s.navigator.Switch(ctx, actor, d)
}
