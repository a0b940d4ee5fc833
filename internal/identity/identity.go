// Package identity authenticates callers of the audit API.
//
// It provides:
//   - TokenIssuer issues and verifies HS256 service tokens carrying roles
//   - RequireRole is Gin middleware enforcing a Bearer token with a given role
//
// When no signing secret is configured the middleware runs in open mode and
// lets every request through, which is how local development and tests run.
package identity
