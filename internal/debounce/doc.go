// Package debounce enforces a minimum interval between repeated actions on
// the same key. The gateway uses it to throttle stream re-attach attempts
// per plan.
package debounce
