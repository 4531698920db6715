package domain

import "errors"

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuantity is returned for line quantities below one.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrInvalidInput is returned when a required identifier or code is empty.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStoreClosed is returned by a cart store after Close.
	ErrStoreClosed = errors.New("cart store closed")
)
