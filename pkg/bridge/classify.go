package bridge

import (
	"errors"
	"strings"
)

func asBrokerError(err error, target **BrokerError) bool {
	return errors.As(err, target)
}

func asOrderFailedError(err error, target **OrderFailedError) bool {
	return errors.As(err, target)
}

func containsAny(message string, substrings ...string) bool {
	lower := strings.ToLower(message)
	for _, s := range substrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
