// Package models defines the core domain models for splitsync.
//
// # Aggregate Structure
//
// A Document is the aggregate root of one collaboration session: a bill with
// its members, expenses, expense items, and settlement marks. The Document
// carries a strictly-increasing version counter that acts as the optimistic
// concurrency token for every write.
//
// Children are held by value inside the Document and reference each other
// only by canonical id; there are no back-pointers from child to parent.
// Lookups go through the owning Document (see MemberByID, ExpenseByID).
//
// # Design Principles
//
// 1. **Single writer path**: only the sync engine mutates a Document or bumps
//    its version; everything else reads.
// 2. **Soft deletes**: members and expenses carry a Deleted flag so that a
//    lagging client replaying the operation log can still resolve the ids it
//    references.
// 3. **Avoid circular references**: ID strings instead of pointers for all
//    cross-entity relationships.
package models
