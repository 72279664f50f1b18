package fleet

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/transitops/movi/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writes to prevent SQLITE_BUSY
}

// Open opens (creating if necessary) the SQLite database at dbPath with WAL
// mode enabled and returns a fleet repository over it.
func Open(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return repo, nil
}

// DB exposes the underlying handle so the checkpoint store can share it.
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}

func (r *SQLiteRepository) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS routes (
		route_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		path_id TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS stops (
		stop_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL
	);
	CREATE TABLE IF NOT EXISTS path_stops (
		path_id TEXT NOT NULL,
		stop_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		PRIMARY KEY (path_id, stop_id)
	);
	CREATE TABLE IF NOT EXISTS daily_trips (
		trip_id TEXT PRIMARY KEY,
		route_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		live_status TEXT NOT NULL DEFAULT 'Unassigned',
		booking_status_percentage REAL NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS vehicles (
		vehicle_id TEXT PRIMARY KEY,
		license_plate TEXT NOT NULL,
		vehicle_type TEXT NOT NULL,
		capacity INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS deployments (
		deployment_id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL,
		vehicle_id TEXT NOT NULL,
		driver_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deployments_trip ON deployments(trip_id);
	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL
	);
	`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// ListRoutes returns all transport routes.
func (r *SQLiteRepository) ListRoutes(ctx context.Context) ([]domain.Route, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT route_id, display_name, path_id FROM routes ORDER BY route_id`)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var routes []domain.Route
	for rows.Next() {
		var rt domain.Route
		if err := rows.Scan(&rt.RouteID, &rt.DisplayName, &rt.PathID); err != nil {
			return nil, fmt.Errorf("scan route row: %w", err)
		}
		routes = append(routes, rt)
	}
	return routes, rows.Err()
}

// ListStopsForPath returns the ordered stops for a path.
func (r *SQLiteRepository) ListStopsForPath(ctx context.Context, pathID string) ([]domain.Stop, error) {
	query := `
		SELECT s.stop_id, s.name, s.latitude, s.longitude
		FROM path_stops p
		JOIN stops s ON s.stop_id = p.stop_id
		WHERE p.path_id = ?
		ORDER BY p.sequence`

	rows, err := r.db.QueryContext(ctx, query, pathID)
	if err != nil {
		return nil, fmt.Errorf("query stops for path %s: %w", pathID, err)
	}
	defer rows.Close()

	return scanStops(rows)
}

// ListStops returns all stops.
func (r *SQLiteRepository) ListStops(ctx context.Context) ([]domain.Stop, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT stop_id, name, latitude, longitude FROM stops ORDER BY stop_id`)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()

	return scanStops(rows)
}

func scanStops(rows *sql.Rows) ([]domain.Stop, error) {
	var stops []domain.Stop
	for rows.Next() {
		var s domain.Stop
		if err := rows.Scan(&s.StopID, &s.Name, &s.Latitude, &s.Longitude); err != nil {
			return nil, fmt.Errorf("scan stop row: %w", err)
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// GetTrip retrieves a trip by ID.
func (r *SQLiteRepository) GetTrip(ctx context.Context, tripID string) (*domain.Trip, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT trip_id, route_id, display_name, live_status, booking_status_percentage
		FROM daily_trips WHERE trip_id = ?`, tripID)

	var t domain.Trip
	err := row.Scan(&t.TripID, &t.RouteID, &t.DisplayName, &t.LiveStatus, &t.BookingPercentage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan trip row: %w", err)
	}
	return &t, nil
}

// ListTodaysTrips returns all trips for the current service day.
func (r *SQLiteRepository) ListTodaysTrips(ctx context.Context) ([]domain.Trip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT trip_id, route_id, display_name, live_status, booking_status_percentage
		FROM daily_trips ORDER BY trip_id`)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		var t domain.Trip
		if err := rows.Scan(&t.TripID, &t.RouteID, &t.DisplayName, &t.LiveStatus, &t.BookingPercentage); err != nil {
			return nil, fmt.Errorf("scan trip row: %w", err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// ListVehicles returns all vehicles in the fleet.
func (r *SQLiteRepository) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT vehicle_id, license_plate, vehicle_type, capacity
		FROM vehicles ORDER BY vehicle_id`)
	if err != nil {
		return nil, fmt.Errorf("query vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []domain.Vehicle
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.VehicleID, &v.LicensePlate, &v.VehicleType, &v.Capacity); err != nil {
			return nil, fmt.Errorf("scan vehicle row: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// CreateStop inserts a new stop.
func (r *SQLiteRepository) CreateStop(ctx context.Context, stop *domain.Stop) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stops (stop_id, name, latitude, longitude) VALUES (?, ?, ?, ?)`,
		stop.StopID, stop.Name, stop.Latitude, stop.Longitude)
	if err != nil {
		return fmt.Errorf("insert stop %s: %w", stop.StopID, err)
	}
	return nil
}

// AssignVehicle deploys a vehicle and driver to a trip inside one
// transaction, marking the trip scheduled.
func (r *SQLiteRepository) AssignVehicle(ctx context.Context, dep *domain.Deployment) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := dep.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deployments (deployment_id, trip_id, vehicle_id, driver_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		dep.DeploymentID, dep.TripID, dep.VehicleID, dep.DriverID, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("insert deployment for trip %s: %w", dep.TripID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE daily_trips SET live_status = 'Scheduled' WHERE trip_id = ?`, dep.TripID)
	if err != nil {
		return fmt.Errorf("update trip status for %s: %w", dep.TripID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assign transaction: %w", err)
	}
	return nil
}

// RemoveVehicle deletes all deployments for a trip.
func (r *SQLiteRepository) RemoveVehicle(ctx context.Context, tripID string) (int64, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin remove transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM deployments WHERE trip_id = ?`, tripID)
	if err != nil {
		return 0, fmt.Errorf("delete deployments for trip %s: %w", tripID, err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count removed deployments: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE daily_trips SET live_status = 'Unassigned' WHERE trip_id = ?`, tripID)
	if err != nil {
		return 0, fmt.Errorf("update trip status for %s: %w", tripID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit remove transaction: %w", err)
	}
	return removed, nil
}

// BookingPercentage returns the booking metric for a trip, or (nil, nil)
// when the trip is not tracked.
func (r *SQLiteRepository) BookingPercentage(ctx context.Context, tripID string) (*float64, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT booking_status_percentage FROM daily_trips WHERE trip_id = ?`, tripID)

	var pct float64
	err := row.Scan(&pct)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan booking percentage for trip %s: %w", tripID, err)
	}
	return &pct, nil
}

// SearchDocuments returns knowledge-base documents matching the query,
// ranked by how many query terms each document contains.
func (r *SQLiteRepository) SearchDocuments(ctx context.Context, query string, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 2
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT doc_id, title, content FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	type scored struct {
		doc  domain.Document
		hits int
	}
	var matches []scored
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.DocID, &d.Title, &d.Content); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		haystack := strings.ToLower(d.Title + " " + d.Content)
		hits := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, scored{doc: d, hits: hits})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].hits > matches[j].hits
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	docs := make([]domain.Document, 0, len(matches))
	for _, m := range matches {
		docs = append(docs, m.doc)
	}
	return docs, nil
}
