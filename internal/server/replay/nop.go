package replay

import (
	"context"
	"time"
)

// Nop is used when no Redis is configured. It accepts every claim and
// never limits, leaving the TOTP skew window as the only replay bound.
type Nop struct{}

func (Nop) Claim(context.Context, string, int64, time.Duration) (bool, error) { return true, nil }
func (Nop) Check(context.Context, string) error                                { return nil }
func (Nop) RecordFailure(context.Context, string) error                        { return nil }
func (Nop) Reset(context.Context, string) error                                { return nil }
