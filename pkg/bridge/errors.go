package bridge

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Sentinel errors surfaced to callers (spec §7).
var (
	ErrSymbolUnavailable     = errors.New("bridge: symbol unavailable")
	ErrInvalidVolume         = errors.New("bridge: invalid volume")
	ErrPositionAlreadyClosed = errors.New("bridge: position already closed")
	ErrBridgeUnavailable     = errors.New("bridge: unreachable")
)

// fatalTicketCode is the canonical "invalid ticket" broker code (spec §4.1, §7).
const fatalTicketCode = 4108

// retryableCodes is the broker error code set that should be retried with
// backoff rather than surfaced immediately (spec §4.1, §6, §7).
var retryableCodes = map[int]bool{
	4:   true,
	6:   true,
	8:   true,
	129: true,
	136: true,
	137: true,
	146: true,
}

// BrokerError wraps a parsed broker error code and the raw message the
// bridge returned. Codes are parsed out of strings containing the pattern
// "error code: <n>" (spec §6).
type BrokerError struct {
	Code    int
	Message string
}

func (e *BrokerError) Error() string {
	if e.Code == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (error code: %d)", e.Message, e.Code)
}

var brokerCodePattern = regexp.MustCompile(`error code:\s*(-?\d+)`)

// ParseBrokerError extracts the broker error code from a bridge error
// string, if present. Always returns a non-nil *BrokerError so callers can
// uniformly inspect .Code (0 when no code was found).
func ParseBrokerError(message string) *BrokerError {
	be := &BrokerError{Message: message}
	m := brokerCodePattern.FindStringSubmatch(message)
	if len(m) == 2 {
		if code, err := strconv.Atoi(m[1]); err == nil {
			be.Code = code
		}
	}
	return be
}

// Retryable reports whether this broker error should be retried per the
// code matrix (spec §4.1, §7). Messages that look like "invalid ticket" or
// "already closed" are always treated as fatal even without a matching
// code, since the bridge does not always include one for that case.
func (e *BrokerError) Retryable() bool {
	if e.isFatalMessage() {
		return false
	}
	if e.Code == fatalTicketCode {
		return false
	}
	return retryableCodes[e.Code]
}

func (e *BrokerError) isFatalMessage() bool {
	lower := strings.ToLower(e.Message)
	return strings.Contains(lower, "invalid ticket") || strings.Contains(lower, "already closed")
}

// OrderFailedError is returned by CreateMarketOrder when its retry loop
// ends in an error; it carries the last broker message verbatim (spec
// §4.1). ClosePosition, ModifyStopLoss and the read operations return the
// last error unwrapped instead.
type OrderFailedError struct {
	Op   string
	Last error
}

func (e *OrderFailedError) Error() string {
	return fmt.Sprintf("bridge: %s failed after retries: %v", e.Op, e.Last)
}

func (e *OrderFailedError) Unwrap() error { return e.Last }
