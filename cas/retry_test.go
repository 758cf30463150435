package cas

import (
	"fmt"
	"net/http/httptest"
	"testing"
)

func TestHasRetriedMatchingToken(t *testing.T) {
	r := httptest.NewRequest("GET", "http://app.example.com/?_cas_retry=42", nil)

	if !HasRetried(r, 42) {
		t.Error("Expected a request with a matching token to count as retried")
	}
}

func TestHasRetriedDifferentToken(t *testing.T) {
	r := httptest.NewRequest("GET", "http://app.example.com/?_cas_retry=41", nil)

	if HasRetried(r, 42) {
		t.Error("Expected a request with a stale token to not count as retried")
	}
}

func TestHasRetriedAbsentToken(t *testing.T) {
	r := httptest.NewRequest("GET", "http://app.example.com/", nil)

	if HasRetried(r, 42) {
		t.Error("Expected a request without a retry marker to not count as retried")
	}
}

func TestWindowTokenMatchesRequestMarker(t *testing.T) {
	token := WindowToken()
	r := httptest.NewRequest("GET",
		fmt.Sprintf("http://app.example.com/?_cas_retry=%d", token), nil)

	if !HasRetried(r, token) {
		t.Error("Expected the current window token to match its own marker")
	}
}

func TestWindowTokenIsMonotonic(t *testing.T) {
	first := WindowToken()
	second := WindowToken()

	if second < first {
		t.Errorf("Expected window tokens to be monotonic, got %d then %d",
			first, second)
	}
}
