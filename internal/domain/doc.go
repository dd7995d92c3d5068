// Package domain holds the shared types of the lead lifecycle engine:
// candidate leads, remote campaign memberships, terminal dispositions,
// the cooldown history ledger, the suppression list, and failure records.
//
// Types here carry no behavior beyond validation and derivation helpers.
// They are written by the sync orchestrator and verification sub-loop and
// persisted through the state repositories.
package domain
