// Package orchestrator runs one delegation: validate, check exclusivity,
// resolve agents, record the run, spawn both sessions, observe the secondary,
// summarize its output and finalize the ledger.
//
// Exclusivity is advisory. It is derived from the names of live run-* sessions,
// so two invocations that both list sessions before either spawns will both
// proceed.
package orchestrator
