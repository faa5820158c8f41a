// Package services defines the business logic for conversation sessions,
// subscriptions, alerts, and batches. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrSessionConflict is returned when a session transition repeatedly
	// loses the optimistic-lock race for the same phone.
	ErrSessionConflict = errors.New("session transition conflict")

	// ErrInvalidRadius is returned when a subscription radius is not in the
	// allowed enumerated set.
	ErrInvalidRadius = errors.New("radius not in allowed set")

	// ErrInvalidFrequency is returned when an alert frequency is not one of
	// the supported values.
	ErrInvalidFrequency = errors.New("unsupported alert frequency")

	// ErrInvalidCoordinates is returned when latitude/longitude fall
	// outside valid decimal-degree ranges.
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrSubscriptionNotFound indicates the requested subscription does not
	// exist or is not accessible.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrUserNotFound indicates the phone has not completed registration.
	ErrUserNotFound = errors.New("user not found")

	// ErrBatchContention is returned when batch acquisition keeps losing
	// races; callers may retry on the next event.
	ErrBatchContention = errors.New("batch acquisition contention")

	// ErrNotSeller is returned when a catch-posting operation is attempted
	// by a user without a seller profile.
	ErrNotSeller = errors.New("user has no seller profile")
)
