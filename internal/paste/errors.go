package paste

import "github.com/pkg/errors"

var (
	// ErrNotFound is the single outcome for unknown, expired and exhausted
	// pastes. Callers cannot tell the causes apart.
	ErrNotFound = errors.New("paste not found or unavailable")
	// ErrPassphraseRequired is returned for an accessible, protected paste
	// when the passphrase is missing or wrong. No view is consumed.
	ErrPassphraseRequired = errors.New("passphrase required")
)

// ValidationError rejects a submission. Message is safe to show to clients.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
