//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoSquash.
//
// GoSquash is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoSquash is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoSquash. If not, see https://www.gnu.org/licenses/.

// backoff.go - Retry configuration and backoff strategies for flow stages
package flow

import (
	"math/rand"
	"time"
)

// BackoffStrategy computes the delay before a retry attempt. Attempt
// numbering starts at zero for the first retry.
type BackoffStrategy interface {
	Delay(attempt int) time.Duration
}

// RetryConfig defines retry behavior for a stage.
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration   // fixed delay between attempts
	Strategy   BackoffStrategy // takes precedence over Backoff when set
	RetryOn    []error         // retry only errors matching one of these via errors.Is; empty retries everything
}

// GetDelay returns the delay before the given retry attempt.
func (rc *RetryConfig) GetDelay(attempt int) time.Duration {
	if rc.Strategy != nil {
		return rc.Strategy.Delay(attempt)
	}
	return rc.Backoff
}

// ExponentialBackoff doubles the delay on every attempt, capped at MaxDelay.
type ExponentialBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (eb *ExponentialBackoff) Delay(attempt int) time.Duration {
	delay := eb.BaseDelay * time.Duration(1<<uint(attempt))
	if delay > eb.MaxDelay {
		delay = eb.MaxDelay
	}
	return delay
}

// LinearBackoff grows the delay linearly with the attempt number,
// capped at MaxDelay. The first retry waits BaseDelay.
type LinearBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (lb *LinearBackoff) Delay(attempt int) time.Duration {
	delay := lb.BaseDelay * time.Duration(attempt+1)
	if delay > lb.MaxDelay {
		delay = lb.MaxDelay
	}
	return delay
}

// FixedBackoff waits the same delay before every retry.
type FixedBackoff struct {
	FixedDelay time.Duration
}

func (fb *FixedBackoff) Delay(attempt int) time.Duration {
	return fb.FixedDelay
}

// JitteredBackoff is exponential backoff with up to Jitter (0.0 to 1.0)
// of randomness spread around each delay.
type JitteredBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

func (jb *JitteredBackoff) Delay(attempt int) time.Duration {
	delay := jb.BaseDelay * time.Duration(1<<uint(attempt))
	if delay > jb.MaxDelay {
		delay = jb.MaxDelay
	}
	if jb.Jitter > 0 {
		delay += time.Duration(float64(delay) * jb.Jitter * (rand.Float64() - 0.5))
	}
	return delay
}

// NoBackoff retries immediately.
type NoBackoff struct{}

func (nb *NoBackoff) Delay(attempt int) time.Duration {
	return 0
}
