// Package accounts implements the verification-token and access-control
// core of the STET Solutions user-management backend.
//
// It covers credential hashing and strength gating, single-use
// verification tokens (account confirmation, password reset, email
// change), cookie-carried sessions, the casbin policy gate that fronts
// every request, and the hourly sweep of expired tokens. Storage goes
// through bun repositories; mail delivery goes through the Mailer
// capability and is fire-and-forget.
package accounts
