// Package savvy provides the identity and authorization core for a
// multi-tenant expense-sharing service: password authentication, JWT
// issuance, rotating refresh sessions, role-gated groups, and an
// invitation lifecycle.
//
// Tokens:
//   - TokenService signs access and refresh JWTs with disjoint HS256
//     secrets and a kind tag in the claims, so neither kind can stand in
//     for the other. SessionManager rotates refresh sessions on every
//     refresh; reusing a rotated token revokes nothing and fails with
//     ErrSessionRevoked.
//
// Groups and invitations:
//   - Memberships carry a GroupRole (viewer, member, admin) and every
//     group-scoped operation resolves the caller's membership before
//     consulting the privilege gate. InvitationEngine drives the
//     pending/accepted/rejected/withdrawn state machine; acceptance
//     grants the membership in the same transaction as the decision.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by SessionManager,
//     GroupService, and InvitationEngine to describe login, refresh,
//     revocation, and invitation events. Sinks run best-effort (errors are
//     logged) so you can forward to a database or queue without blocking
//     authentication.
package savvy
