package testing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// AssertDecimal compares a decimal against its string form by value, so
// "2.3750" equals "2.375".
func AssertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) bool {
	t.Helper()
	expected := decimal.RequireFromString(want)
	if expected.Equal(got) {
		return true
	}
	return assert.Fail(t, "decimal mismatch: expected "+expected.String()+", got "+got.String(), msgAndArgs...)
}
