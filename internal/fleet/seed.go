package fleet

import (
	"context"
	"fmt"
)

// Seed loads a small demo fleet when the database is empty. It is a no-op
// when any route already exists, so restarts keep operator edits.
func (r *SQLiteRepository) Seed(ctx context.Context) error {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM routes`).Scan(&count); err != nil {
		return fmt.Errorf("count routes: %w", err)
	}
	if count > 0 {
		return nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
		args  [][]any
	}{
		{
			query: `INSERT INTO routes (route_id, display_name, path_id) VALUES (?, ?, ?)`,
			args: [][]any{
				{"route_001", "Airport Express", "path_001"},
				{"route_002", "Tech Park Shuttle", "path_002"},
				{"route_003", "Night Bulk", "path_003"},
			},
		},
		{
			query: `INSERT INTO stops (stop_id, name, latitude, longitude) VALUES (?, ?, ?, ?)`,
			args: [][]any{
				{"stop_001", "Central Station", 12.9763, 77.5929},
				{"stop_002", "Airport T1", 13.1989, 77.7068},
				{"stop_003", "Tech Park Gate 2", 12.9850, 77.7360},
				{"stop_004", "Lakeside Depot", 12.9352, 77.6245},
			},
		},
		{
			query: `INSERT INTO path_stops (path_id, stop_id, sequence) VALUES (?, ?, ?)`,
			args: [][]any{
				{"path_001", "stop_001", 1},
				{"path_001", "stop_002", 2},
				{"path_002", "stop_001", 1},
				{"path_002", "stop_003", 2},
				{"path_003", "stop_004", 1},
				{"path_003", "stop_001", 2},
			},
		},
		{
			query: `INSERT INTO daily_trips (trip_id, route_id, display_name, live_status, booking_status_percentage)
				VALUES (?, ?, ?, ?, ?)`,
			args: [][]any{
				{"trip_001", "route_001", "Airport - 06:00", "Scheduled", 60},
				{"trip_002", "route_002", "Tech Park - 08:30", "Scheduled", 0},
				{"trip_003", "route_003", "Bulk - 00:01", "Unassigned", 25},
			},
		},
		{
			query: `INSERT INTO vehicles (vehicle_id, license_plate, vehicle_type, capacity) VALUES (?, ?, ?, ?)`,
			args: [][]any{
				{"veh_001", "KA-01-AB-1234", "bus", 42},
				{"veh_002", "KA-01-CD-5678", "bus", 42},
				{"veh_003", "KA-02-EF-9012", "cab", 4},
			},
		},
		{
			query: `INSERT INTO deployments (deployment_id, trip_id, vehicle_id, driver_id, created_at) VALUES (?, ?, ?, ?, 0)`,
			args: [][]any{
				{"dep_001", "trip_001", "veh_001", "drv_001"},
				{"dep_002", "trip_002", "veh_002", "drv_002"},
			},
		},
		{
			query: `INSERT INTO documents (doc_id, title, content) VALUES (?, ?, ?)`,
			args: [][]any{
				{"doc_001", "Assigning vehicles", "To deploy a bus, open the trip and pick an unassigned vehicle and driver. The trip status changes to Scheduled once a deployment exists."},
				{"doc_002", "Removing vehicles", "Removing a vehicle deletes the trip's deployment and cancels its trip-sheet. If the trip has bookings, the system pauses and asks for confirmation first."},
				{"doc_003", "Creating stops", "New stops need a name and coordinates. Stops become available for path planning immediately after creation."},
			},
		},
	}

	for _, stmt := range stmts {
		for _, args := range stmt.args {
			if _, err := tx.ExecContext(ctx, stmt.query, args...); err != nil {
				return fmt.Errorf("seed fleet data: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed transaction: %w", err)
	}
	return nil
}
