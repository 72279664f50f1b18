package domain

import "time"

// Route is a named transport route served by the fleet.
type Route struct {
	RouteID     string `json:"route_id"`
	DisplayName string `json:"display_name"`
	PathID      string `json:"path_id"`
}

// Stop is a named boarding location.
type Stop struct {
	StopID    string  `json:"stop_id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PathStop places a stop at a position along a path.
type PathStop struct {
	PathID   string `json:"path_id"`
	StopID   string `json:"stop_id"`
	Sequence int    `json:"sequence"`
}

// Trip is one scheduled run of a route for the current service day.
type Trip struct {
	TripID            string  `json:"trip_id"`
	RouteID           string  `json:"route_id"`
	DisplayName       string  `json:"display_name"`
	LiveStatus        string  `json:"live_status"`
	BookingPercentage float64 `json:"booking_status_percentage"`
}

// Vehicle is a bus or cab in the fleet.
type Vehicle struct {
	VehicleID    string `json:"vehicle_id"`
	LicensePlate string `json:"license_plate"`
	VehicleType  string `json:"vehicle_type"`
	Capacity     int    `json:"capacity"`
}

// Deployment assigns a vehicle and driver to a trip.
type Deployment struct {
	DeploymentID string    `json:"deployment_id"`
	TripID       string    `json:"trip_id"`
	VehicleID    string    `json:"vehicle_id"`
	DriverID     string    `json:"driver_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Document is one entry in the operator knowledge base.
type Document struct {
	DocID   string `json:"doc_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}
