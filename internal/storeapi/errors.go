package storeapi

import "errors"

var (
	// ErrOrderNotFound is returned when the backend has no order for the reference.
	ErrOrderNotFound = errors.New("storeapi: order not found")

	// ErrNotPaid is returned when the gateway has not settled the checkout yet.
	ErrNotPaid = errors.New("storeapi: payment not completed")

	// ErrRejected is returned when the backend refuses the request as invalid.
	ErrRejected = errors.New("storeapi: request rejected")

	// ErrInternal covers failures building or sending the request.
	ErrInternal = errors.New("storeapi: internal error")

	// ErrInvalidResponse covers unexpected status codes and undecodable bodies.
	ErrInvalidResponse = errors.New("storeapi: invalid response")
)
