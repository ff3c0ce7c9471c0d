//go:build !debug

// Package debug provides zero-cost-in-release invariant checks. Build
// with `-tags debug` to turn them into real assertions; the invariants
// they guard are named in spec §8 (e.g. active-priority-iff-sources).
/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package debug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
func Func(_ func())                      {}
