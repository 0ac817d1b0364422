// Package clock provides an injectable time source so every component
// (hsg, decay, reflect, maintain) can be driven by the same fake clock in
// tests.
package clock

import "time"

// Clock returns the current time. The zero value is invalid; use Real() or a test double.
type Clock func() time.Time

// Real returns the system clock.
func Real() Clock { return func() time.Time { return time.Now().UTC() } }

// Fixed returns a Clock that always reports t.
func Fixed(t time.Time) Clock { return func() time.Time { return t } }

// NowMillis returns c()'s Unix milliseconds.
func (c Clock) NowMillis() int64 { return c().UnixMilli() }
