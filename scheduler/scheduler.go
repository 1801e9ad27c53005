package scheduler

// Package scheduler provides scheduled job management for the screener
// backend. It handles:
// - Daily screening runs after the TWSE close
// - Periodic universe refresh from the exchange listing page
// - Weekly market cache pruning
//
// The main scheduler is implemented in jobs.go
