package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/transitops/movi/internal/domain"
	"github.com/transitops/movi/internal/fleet"
)

// RemoveVehicleFromTrip is the capability gated by the consequence
// evaluator: removing a vehicle from a booked trip cancels its bookings.
const RemoveVehicleFromTrip = "remove_vehicle_from_trip"

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func floatArg(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing required argument %q", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("argument %q must be a number", key)
	}
	return f, nil
}

func asJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

func shortID(prefix string) string {
	return prefix + "_" + uuid.NewString()[:4]
}

// RegisterFleet registers the transport-management capabilities over the
// fleet repository.
func RegisterFleet(reg *Registry, repo fleet.Repository) error {
	capabilities := []Capability{
		{
			Definition: Definition{
				Name:        "list_all_routes",
				Description: "View all available transport routes.",
				Parameters:  Schema{Type: "object", Properties: map[string]any{}},
			},
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				routes, err := repo.ListRoutes(ctx)
				if err != nil {
					return "", err
				}
				return asJSON(routes)
			},
		},
		{
			Definition: Definition{
				Name:        "list_stops_for_path",
				Description: "Get the ordered list of stops for a specific path ID.",
				Parameters: Schema{
					Type: "object",
					Properties: map[string]any{
						"path_id": map[string]any{"type": "string"},
					},
					Required: []string{"path_id"},
				},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				pathID, err := stringArg(args, "path_id")
				if err != nil {
					return "", err
				}
				stops, err := repo.ListStopsForPath(ctx, pathID)
				if err != nil {
					return "", err
				}
				return asJSON(stops)
			},
		},
		{
			Definition: Definition{
				Name:        "get_trip_details",
				Description: "Get details of a specific trip, including booking status. Useful for checking if a trip is active or booked.",
				Parameters: Schema{
					Type: "object",
					Properties: map[string]any{
						"trip_id": map[string]any{"type": "string"},
					},
					Required: []string{"trip_id"},
				},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				tripID, err := stringArg(args, "trip_id")
				if err != nil {
					return "", err
				}
				trip, err := repo.GetTrip(ctx, tripID)
				if err != nil {
					return "", err
				}
				if trip == nil {
					return fmt.Sprintf("No trip found with ID %s.", tripID), nil
				}
				return asJSON(trip)
			},
		},
		{
			Definition: Definition{
				Name:        "list_todays_trips",
				Description: "Fetch all active trips for the day with trip_id, display_name, and status. ALWAYS call this if you have a trip name but need the trip_id.",
				Parameters:  Schema{Type: "object", Properties: map[string]any{}},
			},
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				trips, err := repo.ListTodaysTrips(ctx)
				if err != nil {
					return "", err
				}
				return asJSON(trips)
			},
		},
		{
			Definition: Definition{
				Name:        "list_unassigned_vehicles",
				Description: "List all vehicles (buses/cabs) with their details: ID, license plate, type, capacity.",
				Parameters:  Schema{Type: "object", Properties: map[string]any{}},
			},
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				vehicles, err := repo.ListVehicles(ctx)
				if err != nil {
					return "", err
				}
				return asJSON(vehicles)
			},
		},
		{
			Definition: Definition{
				Name:        "create_new_stop",
				Description: "Create a new stop location.",
				Parameters: Schema{
					Type: "object",
					Properties: map[string]any{
						"name": map[string]any{"type": "string"},
						"lat":  map[string]any{"type": "number"},
						"lon":  map[string]any{"type": "number"},
					},
					Required: []string{"name", "lat", "lon"},
				},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				name, err := stringArg(args, "name")
				if err != nil {
					return "", err
				}
				lat, err := floatArg(args, "lat")
				if err != nil {
					return "", err
				}
				lon, err := floatArg(args, "lon")
				if err != nil {
					return "", err
				}
				stop := &domain.Stop{
					StopID:    shortID("stop"),
					Name:      name,
					Latitude:  lat,
					Longitude: lon,
				}
				if err := repo.CreateStop(ctx, stop); err != nil {
					return "", err
				}
				return fmt.Sprintf("Stop created successfully with ID: %s", stop.StopID), nil
			},
		},
		{
			Definition: Definition{
				Name:        "assign_vehicle_to_trip",
				Description: "Assign a vehicle and driver to a trip (deploy).",
				Parameters: Schema{
					Type: "object",
					Properties: map[string]any{
						"trip_id":    map[string]any{"type": "string"},
						"vehicle_id": map[string]any{"type": "string"},
						"driver_id":  map[string]any{"type": "string"},
					},
					Required: []string{"trip_id", "vehicle_id", "driver_id"},
				},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				tripID, err := stringArg(args, "trip_id")
				if err != nil {
					return "", err
				}
				vehicleID, err := stringArg(args, "vehicle_id")
				if err != nil {
					return "", err
				}
				driverID, err := stringArg(args, "driver_id")
				if err != nil {
					return "", err
				}
				dep := &domain.Deployment{
					DeploymentID: shortID("dep"),
					TripID:       tripID,
					VehicleID:    vehicleID,
					DriverID:     driverID,
				}
				if err := repo.AssignVehicle(ctx, dep); err != nil {
					return fmt.Sprintf("Error assigning vehicle: %v", err), nil
				}
				return "Vehicle assigned successfully.", nil
			},
		},
		{
			Definition: Definition{
				Name:        RemoveVehicleFromTrip,
				Description: "ACTUALLY removes the vehicle from a trip. WARNING: do not call this directly if the trip is booked; the system intercepts and checks safety.",
				Parameters: Schema{
					Type: "object",
					Properties: map[string]any{
						"trip_id": map[string]any{"type": "string"},
					},
					Required: []string{"trip_id"},
				},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				tripID, err := stringArg(args, "trip_id")
				if err != nil {
					return "", err
				}
				if _, err := repo.RemoveVehicle(ctx, tripID); err != nil {
					return fmt.Sprintf("Error removing vehicle: %v", err), nil
				}
				return fmt.Sprintf("Vehicle removed from trip %s. Trip-sheet cancelled.", tripID), nil
			},
		},
		{
			Definition: Definition{
				Name:        "search_knowledge_base",
				Description: "Search the product documentation for help. Use this for 'How do I...' or generic questions about how the system works.",
				Parameters: Schema{
					Type: "object",
					Properties: map[string]any{
						"query": map[string]any{"type": "string"},
					},
					Required: []string{"query"},
				},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				query, err := stringArg(args, "query")
				if err != nil {
					return "", err
				}
				docs, err := repo.SearchDocuments(ctx, query, 2)
				if err != nil {
					return "", err
				}
				if len(docs) == 0 {
					return "No specific documentation found.", nil
				}
				parts := make([]string, 0, len(docs))
				for _, d := range docs {
					parts = append(parts, d.Content)
				}
				return strings.Join(parts, "\n\n"), nil
			},
		},
	}

	for _, c := range capabilities {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register fleet capabilities: %w", err)
		}
	}
	return nil
}
