package domain

import "errors"

var (
	// ErrValidation flags bad caller input. No network call has been made.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials means the provider rejected the API key (or none
	// was supplied). Cached credential-ready state must be invalidated.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrQuotaExceeded is a rate or billing limit from the provider. It does
	// not invalidate credentials and carries its own user-facing message.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrProviderFailure is any other provider or parse failure.
	ErrProviderFailure = errors.New("provider failure")

	// ErrNoImage means the provider answered successfully but returned zero
	// images.
	ErrNoImage = errors.New("no image produced")

	ErrImageDecode = errors.New("image decode failed")
	ErrImageEncode = errors.New("image encode failed")

	// ErrNetwork is a transport-level failure, distinct from a failure the
	// remote endpoint reported itself.
	ErrNetwork = errors.New("network failure")

	// ErrIncompleteData rejects a save with no draft or no image at all.
	ErrIncompleteData = errors.New("incomplete product data")

	// ErrSlotBusy rejects a regeneration for a slot that already has a call
	// in flight. The UI is expected to disable the action while loading.
	ErrSlotBusy = errors.New("image slot busy")

	ErrSessionNotFound = errors.New("session not found")
)
