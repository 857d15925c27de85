package walletapi

/*
 * Dual-licensed under Apache-2.0 and MIT.
 *
 * You can get a copy of the Apache License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * You can also get a copy of the MIT License at
 *
 * http://opensource.org/licenses/MIT
 *
 * @wcgcyx - https://github.com/wcgcyx
 */

import "fmt"

// NoFreeChannelsError is returned when AcquireChannel finds no eligible,
// non-retired channel with turnNum%2 == 1 for the given allocation.
type NoFreeChannelsError struct {
	AllocationID string
}

func (e *NoFreeChannelsError) Error() string {
	return fmt.Sprintf("no free channel for allocation %v", e.AllocationID)
}

// ValidationError is returned when a caller-supplied request cannot be
// satisfied as stated, e.g. a negative capacity or a payment above balance.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %v", e.Reason)
}

// StorageError wraps a failure in the backing channel cache.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %v", e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ProtocolViolation is returned when the wallet responds in a way this core
// never expects, e.g. more than one outbox entry for a single-peer exchange.
// This should never occur in a correctly behaving wallet.
type ProtocolViolation struct {
	Detail string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %v", e.Detail)
}

// ObjectivesNotCompleted is returned when the backoff schedule for
// ensureObjectives is exhausted while objectives remain pending.
type ObjectivesNotCompleted struct {
	IDs []string
}

func (e *ObjectivesNotCompleted) Error() string {
	return fmt.Sprintf("objectives not completed after retries: %v", e.IDs)
}
