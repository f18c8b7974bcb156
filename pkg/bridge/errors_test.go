package bridge

import "testing"

func TestParseBrokerErrorExtractsCode(t *testing.T) {
	cases := []struct {
		message  string
		wantCode int
	}{
		{"off quotes (error code: 136)", 136},
		{"trade context busy (error code: 146)", 146},
		{"invalid ticket (error code: 4108)", 4108},
		{"no code here", 0},
		{"negative (error code: -1)", -1},
	}

	for _, tc := range cases {
		be := ParseBrokerError(tc.message)
		if be.Code != tc.wantCode {
			t.Errorf("ParseBrokerError(%q).Code = %d, want %d", tc.message, be.Code, tc.wantCode)
		}
	}
}

func TestBrokerErrorRetryable(t *testing.T) {
	cases := []struct {
		name string
		be   *BrokerError
		want bool
	}{
		{"requote is not retryable", &BrokerError{Code: 138}, false},
		{"off quotes is retryable", &BrokerError{Code: 136}, true},
		{"busy is retryable", &BrokerError{Code: 137}, true},
		{"trade context busy is retryable", &BrokerError{Code: 146}, true},
		{"not enough money is not retryable", &BrokerError{Code: 134}, false},
		{"invalid ticket is fatal", &BrokerError{Code: fatalTicketCode}, false},
		{"already closed message is fatal regardless of code", &BrokerError{Code: 1, Message: "position already closed"}, false},
		{"invalid ticket message is fatal without code", &BrokerError{Message: "invalid ticket"}, false},
		{"unknown code defaults to non-retryable", &BrokerError{Code: 9999}, false},
	}

	for _, tc := range cases {
		if got := tc.be.Retryable(); got != tc.want {
			t.Errorf("%s: Retryable() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestOrderFailedErrorUnwraps(t *testing.T) {
	inner := &BrokerError{Code: 137, Message: "busy"}
	wrapped := &OrderFailedError{Op: "createMarketOrder", Last: inner}

	if wrapped.Unwrap() != inner {
		t.Fatal("expected Unwrap to return the wrapped broker error")
	}
	if wrapped.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}
