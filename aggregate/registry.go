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

package aggregate

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an aggregator instance bound to a field. Aggregators that
// take no field (count) ignore the argument.
type Factory func(field string) Aggregator

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

func init() {
	builtins := map[string]Factory{
		"coalesce": func(field string) Aggregator { return &CoalesceAggregator{Field: field} },
		"first":    func(field string) Aggregator { return &FirstAggregator{Field: field} },
		"last":     func(field string) Aggregator { return &LastAggregator{Field: field} },
		"count":    func(field string) Aggregator { return &CountAggregator{} },
		"sum":      func(field string) Aggregator { return &SumAggregator{Field: field} },
		"avg":      func(field string) Aggregator { return &AvgAggregator{Field: field} },
		"min":      func(field string) Aggregator { return &MinAggregator{Field: field} },
		"max":      func(field string) Aggregator { return &MaxAggregator{Field: field} },
	}
	for name, factory := range builtins {
		Register(name, factory)
	}
}

// Register adds a named aggregator factory. Registering an existing name
// replaces the previous factory, so callers can override built-ins.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New builds an aggregator by registered name.
func New(name, field string) (Aggregator, error) {
	registryMu.RLock()
	factory, exists := registry[name]
	registryMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unknown aggregator %q", name)
	}
	return factory(field), nil
}

// Aggregates returns the registered aggregator names in sorted order.
func Aggregates() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
