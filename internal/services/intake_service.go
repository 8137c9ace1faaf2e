// Package services glues the ledger to its collaborators: the barcode
// resolver feeding it products and the event feed downstream consumers
// subscribe to.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vocht/internal/amqp"
	"vocht/internal/core"
	"vocht/internal/ledger"
	"vocht/internal/lookup"
)

// ProductResolver turns a barcode into a (name, quantity, image) tuple.
// The service never performs the lookup itself beyond this call.
type ProductResolver interface {
	Resolve(ctx context.Context, barcode string) (lookup.Product, error)
}

// EventPublisher publishes intake events for downstream consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *amqp.IntakeEvent) error
}

// IntakeService orchestrates intake operations: every mutation goes to
// the ledger first (local-first, reliable), then out to the event feed.
// Both resolver and publisher may be nil; the service degrades to a
// plain ledger front.
type IntakeService struct {
	ledger   *ledger.Ledger
	resolver ProductResolver
	events   EventPublisher
}

func NewIntakeService(l *ledger.Ledger, resolver ProductResolver, events EventPublisher) *IntakeService {
	return &IntakeService{
		ledger:   l,
		resolver: resolver,
		events:   events,
	}
}

// LogProduct records one intake event with an already-resolved product.
// A persistence failure is passed through after the in-memory append;
// the event is still published because the entry exists in the session.
func (s *IntakeService) LogProduct(ctx context.Context, name string, quantity, originalQuantity float64, imageURL string, date core.Date) (core.Entry, error) {
	entry, err := s.ledger.AddEntry(ctx, name, quantity, originalQuantity, imageURL, date)
	if err != nil && !errors.Is(err, core.ErrPersistence) {
		return core.Entry{}, err
	}

	s.publishLogged(ctx, entry)
	return entry, err
}

// LogScan resolves a barcode and logs the chosen fraction of the
// serving, the slider flow of the scanner screen: percent 100 logs the
// full serving, 50 logs half, with the full size kept as the entry's
// original quantity.
func (s *IntakeService) LogScan(ctx context.Context, barcode string, percent float64, date core.Date) (core.Entry, error) {
	if percent < 0 || percent > 100 {
		return core.Entry{}, fmt.Errorf("%w: percent %v out of range [0,100]", core.ErrInvalidQuantity, percent)
	}
	if s.resolver == nil {
		return core.Entry{}, fmt.Errorf("no product resolver configured")
	}

	product, err := s.resolver.Resolve(ctx, barcode)
	if err != nil {
		return core.Entry{}, fmt.Errorf("resolve barcode: %w", err)
	}

	quantity := percent / 100 * product.Quantity
	return s.LogProduct(ctx, product.Name, quantity, product.Quantity, product.ImageURL, date)
}

// LogCup appends one default cup.
func (s *IntakeService) LogCup(ctx context.Context) (core.Entry, error) {
	entry, err := s.ledger.AddDefaultCup(ctx)
	if err != nil && !errors.Is(err, core.ErrPersistence) {
		return core.Entry{}, err
	}

	s.publishLogged(ctx, entry)
	return entry, err
}

// Reset clears the whole ledger and announces it on the event feed.
func (s *IntakeService) Reset(ctx context.Context) error {
	err := s.ledger.Reset(ctx)
	if err != nil && !errors.Is(err, core.ErrPersistence) {
		return err
	}

	if s.events != nil {
		if pubErr := s.events.PublishEvent(ctx, amqp.NewLedgerResetEvent()); pubErr != nil {
			slog.ErrorContext(ctx, "Failed to publish reset event", "error", pubErr)
			// Don't fail the request - the ledger is reset locally
		}
	}
	return err
}

func (s *IntakeService) publishLogged(ctx context.Context, entry core.Entry) {
	if s.events == nil {
		slog.DebugContext(ctx, "Event publisher not available, skipping intake event")
		return
	}

	event := amqp.NewIntakeLoggedEvent(entry.Name, entry.Quantity, entry.Date.String(), s.ledger.CurrentTotal())
	if err := s.events.PublishEvent(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish intake event",
			"entry_name", entry.Name,
			"error", err)
		// Don't fail the request - the entry is recorded locally
	}
}
