package store

import "errors"

// Error taxonomy for the Status Store, per spec.md §4.1 / §7.
var (
	ErrKeyNotFound           = errors.New("store: key not found")
	ErrKeyAlreadyExists      = errors.New("store: key already exists")
	ErrUnparseable           = errors.New("store: item does not match StoreItem invariants")
	ErrExpiredItem           = errors.New("store: item has expired")
	ErrResultMissing         = errors.New("store: status is SUCCESS but result is empty")
	ErrResultErrorStatus     = errors.New("store: result status is ERROR")
	ErrResultInProgressStatus = errors.New("store: result is not ready yet")
	ErrAwaitingResultTimeout = errors.New("store: timed out awaiting result")
)
