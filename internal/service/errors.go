package service

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidParticipants = errors.New("invalid participants")
	ErrInvalidInput        = errors.New("invalid input")
)
