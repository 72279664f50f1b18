// Package fleet provides the transport data layer: routes, trips, vehicles,
// stops, deployments, and the operator knowledge base.
package fleet

import (
	"context"

	"github.com/transitops/movi/internal/domain"
)

// Repository defines the interface for fleet data access. Reads back both the
// HTTP dashboard endpoints and the agent capabilities; BookingPercentage is
// the risk data source for the consequence evaluator.
type Repository interface {
	// ListRoutes returns all transport routes.
	ListRoutes(ctx context.Context) ([]domain.Route, error)

	// ListStopsForPath returns the ordered stops for a path.
	ListStopsForPath(ctx context.Context, pathID string) ([]domain.Stop, error)

	// ListStops returns all stops.
	ListStops(ctx context.Context) ([]domain.Stop, error)

	// GetTrip retrieves a trip by ID. Returns (nil, nil) when not found.
	GetTrip(ctx context.Context, tripID string) (*domain.Trip, error)

	// ListTodaysTrips returns all trips for the current service day.
	ListTodaysTrips(ctx context.Context) ([]domain.Trip, error)

	// ListVehicles returns all vehicles in the fleet.
	ListVehicles(ctx context.Context) ([]domain.Vehicle, error)

	// CreateStop inserts a new stop.
	CreateStop(ctx context.Context, stop *domain.Stop) error

	// AssignVehicle deploys a vehicle and driver to a trip and marks the
	// trip scheduled.
	AssignVehicle(ctx context.Context, dep *domain.Deployment) error

	// RemoveVehicle deletes all deployments for a trip and returns the
	// number removed.
	RemoveVehicle(ctx context.Context, tripID string) (int64, error)

	// BookingPercentage returns the booking metric for a trip, or
	// (nil, nil) when the trip is not tracked.
	BookingPercentage(ctx context.Context, tripID string) (*float64, error)

	// SearchDocuments returns knowledge-base documents matching the query,
	// most relevant first, capped at limit.
	SearchDocuments(ctx context.Context, query string, limit int) ([]domain.Document, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying database.
	Close() error
}
