package helpers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type MarketFanoutError struct {
	Message string
	Cause   error
}

func (e *MarketFanoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *MarketFanoutError) Unwrap() error {
	return e.Cause
}

// Distinct error types for errors.As checks
type ConfigurationError struct{ MarketFanoutError }
type NetworkError struct{ MarketFanoutError }
type ExchangeError struct{ MarketFanoutError }
type DatabaseError struct{ MarketFanoutError }

func NewNetworkError(msg string, cause error) error {
	return &NetworkError{MarketFanoutError{Message: msg, Cause: cause}}
}

func NewExchangeError(msg string, cause error) error {
	return &ExchangeError{MarketFanoutError{Message: msg, Cause: cause}}
}

func NewDatabaseError(msg string, cause error) error {
	return &DatabaseError{MarketFanoutError{Message: msg, Cause: cause}}
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// Signatures exchanges use when an API key or signature is rejected:
// Binance -2014/-2015, Bybit retCode 10003/10004, and the plain-text variants.
var invalidCredentialsRe = regexp.MustCompile(`(?i)(invalid[ _-]?api[ _-]?key|api[ _-]?key[^"]*invalid|invalid signature|code[":= ]*-201[45]|retcode[":= ]*1000[34])`)

// IsInvalidCredentials reports whether err carries an invalid-credentials signature.
func IsInvalidCredentials(err error) bool {
	if err == nil {
		return false
	}
	return invalidCredentialsRe.MatchString(err.Error())
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff attempts to execute the operation up to maxRetries times with exponential backoff.
func RetryWithBackoff(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt == maxRetries-1 {
			break
		}

		if err := Sleep(ctx, baseDelay*(1<<attempt)); err != nil {
			return errors.Join(lastErr, err)
		}
	}

	return lastErr
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
