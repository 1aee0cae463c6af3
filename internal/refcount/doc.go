// Package refcount tracks shared ownership of physical block slots.
//
// RefCounter enforces the core bookkeeping invariants: every allocated slot
// has refcount >= 1, no slot is freed twice, and underflow fails loudly.
// CopyOnWriteTracker accumulates the deferred source → destinations copy
// mapping produced while shared blocks diverge during a scheduling step.
package refcount
