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

// Package reduce defines the pure reduction contract that GoSquash engines
// drive, and the coalesce operator that is the library's reason to exist.
//
// A Reducer is three pure functions: Initial produces the state for a fresh
// group, Step folds one input into the state, Finish turns the final state
// into the group's result. A hosting engine (aggregate.GroupBy, the
// Squasher, or any external grouped-aggregation framework) calls Initial
// once per group, Step once per member row in the order it considers
// authoritative, and Finish once at group end.
//
// Input order is the caller's contract. Reducers in this package never
// reorder, compare, or verify sequence; a caller that needs the ordering
// precondition checked can run validators.MonotonicSequence upstream.
package reduce

import "github.com/aaronlmathis/gosquash/optional"

// Reducer is the extension-point contract between a grouped-aggregation
// engine and a reduction operator. All three methods must be pure: no side
// effects, no error conditions. Every input, including an absent Value, is
// valid and produces a defined result.
type Reducer[T any] interface {
	// Initial returns the state for a group before any input is folded.
	Initial() optional.Value[T]
	// Step folds one input into the running state and returns the new state.
	Step(state, input optional.Value[T]) optional.Value[T]
	// Finish converts the final state into the group's aggregate result.
	Finish(state optional.Value[T]) optional.Value[T]
}

// Coalesce reduces a sequence of nullable values to the most recent present
// one: a present input overwrites the state, an absent input is a no-op.
// After any prefix of a fold the state equals the last present input of
// that prefix, or absent if there has been none.
//
// The operator is order-dependent, not commutative: it is meant for
// squashing a sequence of revisions down to their effective current value,
// where "most recent" is defined by the caller's input order.
type Coalesce[T any] struct{}

// Initial returns absent: a fresh group has seen no value.
func (Coalesce[T]) Initial() optional.Value[T] {
	return optional.None[T]()
}

// Step returns input when it is present, otherwise the state unchanged.
// Nulls never overwrite data.
func (Coalesce[T]) Step(state, input optional.Value[T]) optional.Value[T] {
	if input.Present() {
		return input
	}
	return state
}

// Finish is the identity: the state is the result.
func (Coalesce[T]) Finish(state optional.Value[T]) optional.Value[T] {
	return state
}

// First keeps the first present value of the sequence and ignores
// everything after it.
type First[T any] struct{}

func (First[T]) Initial() optional.Value[T] {
	return optional.None[T]()
}

func (First[T]) Step(state, input optional.Value[T]) optional.Value[T] {
	if state.Present() {
		return state
	}
	return input
}

func (First[T]) Finish(state optional.Value[T]) optional.Value[T] {
	return state
}

// Last keeps the final input of the sequence, present or not. Unlike
// Coalesce, a trailing absent input erases an earlier present value; use it
// when null is itself a meaningful latest revision (an explicit unset).
type Last[T any] struct{}

func (Last[T]) Initial() optional.Value[T] {
	return optional.None[T]()
}

func (Last[T]) Step(state, input optional.Value[T]) optional.Value[T] {
	return input
}

func (Last[T]) Finish(state optional.Value[T]) optional.Value[T] {
	return state
}

// ReducerFuncs adapts three plain functions to the Reducer interface, for
// engines that register function values rather than implementations. A nil
// InitialFunc defaults to absent, a nil FinishFunc to identity; StepFunc is
// required and a nil one makes Step a no-op that keeps the state.
type ReducerFuncs[T any] struct {
	InitialFunc func() optional.Value[T]
	StepFunc    func(state, input optional.Value[T]) optional.Value[T]
	FinishFunc  func(state optional.Value[T]) optional.Value[T]
}

func (f ReducerFuncs[T]) Initial() optional.Value[T] {
	if f.InitialFunc == nil {
		return optional.None[T]()
	}
	return f.InitialFunc()
}

func (f ReducerFuncs[T]) Step(state, input optional.Value[T]) optional.Value[T] {
	if f.StepFunc == nil {
		return state
	}
	return f.StepFunc(state, input)
}

func (f ReducerFuncs[T]) Finish(state optional.Value[T]) optional.Value[T] {
	if f.FinishFunc == nil {
		return state
	}
	return f.FinishFunc(state)
}

// Fold runs a complete reduction over inputs in slice order: Initial, then
// one Step per input, then Finish. It is the reference embedding of a
// Reducer and the form the operator's laws are stated against.
func Fold[T any](r Reducer[T], inputs []optional.Value[T]) optional.Value[T] {
	state := r.Initial()
	for _, input := range inputs {
		state = r.Step(state, input)
	}
	return r.Finish(state)
}
