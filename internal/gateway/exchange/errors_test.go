package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"deltabot/internal/types"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"rate limit", fmt.Errorf("submit: %w", ErrRateLimited), ClassRetriable},
		{"transient", ErrTransient, ClassRetriable},
		{"deadline", context.DeadlineExceeded, ClassRetriable},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, ClassRetriable},
		{"rejected", fmt.Errorf("margin: %w", ErrRejected), ClassFatal},
		{"cancelled", context.Canceled, ClassFatal},
		{"unknown", errors.New("boom"), ClassFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestSideFor(t *testing.T) {
	assert.Equal(t, SideBuy, SideFor(types.DirectionLong, false))
	assert.Equal(t, SideSell, SideFor(types.DirectionLong, true))
	assert.Equal(t, SideSell, SideFor(types.DirectionShort, false))
	assert.Equal(t, SideBuy, SideFor(types.DirectionShort, true))
}
