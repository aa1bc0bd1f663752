// Package models defines the core domain models for the group-buy coordinator.
//
// # Models
//
//   - OrderCycle: one bounded buying round for a single group, holding the
//     participant ledger and per-product aggregates
//   - Participant: one user's contribution to a cycle
//   - OrderItem: a single product line inside a participant's contribution
//   - PaymentRecord: gateway-side payment state for one participant's dues
//   - Event: a domain event emitted after a committed mutation
//   - AuditEntry: an immutable record of security- or money-relevant actions
//
// # Design Principles
//
//  1. Cycles are stored as whole documents: participants and aggregates are
//     nested inside the OrderCycle so a single conditional write covers every
//     invariant between them.
//  2. Derived fields (totalAmount, productAggregates, minQuantityMet) are
//     never written directly; they are recomputed on every mutation.
//  3. Money crossing the gateway boundary is integer minor units; item prices
//     stay in major units as entered by the buyer.
//  4. Avoid circular references: models hold ID strings, never pointers to
//     other aggregates.
package models
