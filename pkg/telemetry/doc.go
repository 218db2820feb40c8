// Package telemetry defines the shared language of the sqlscope system.
//
// This package contains:
//   - Row types produced by a monitored SQL Server instance
//   - The Source interface every data provider implements
//   - TimeRange, the window every time-addressable fetch receives
//
// The Golden Rule: pkg/telemetry imports stdlib only.
// All other packages depend on telemetry, not the reverse.
package telemetry
