// Package authctl implements the operator command line: schema migration,
// account inspection, session revocation and a few recovery actions that
// bypass the user-facing flows.
package authctl
