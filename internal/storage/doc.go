package storage

// Package storage provides a minimal persistence layer for the delivery
// journal.
//
// It currently supports:
//   - Append-only delivery records (terminal send outcomes)
//   - Recent-history reads for diagnostics
