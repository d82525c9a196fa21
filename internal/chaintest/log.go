package chaintest

import (
	"testing"

	"github.com/neilotoole/slogt"

	"github.com/blockberries/nodegate/logging"
)

// NewLogger returns a logger that writes through t.Log, so output is
// attached to the test that produced it.
func NewLogger(t testing.TB) *logging.Logger {
	return logging.New(slogt.New(t, slogt.Text()).Handler())
}
