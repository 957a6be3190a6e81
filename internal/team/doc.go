// Package team loads and validates agent team descriptors from a TOML
// registry file. Descriptors are immutable after load; unknown team IDs
// fail plan creation before any state is written.
package team
