// Package stackstore deduplicates call stacks and hands out small stable
// integer handles for them.
//
// # Overview
//
// Many tracked ranges are requested from the same code path. Rather than
// storing a CallStack per range, the region tree stores an Index into a
// Store. The Store owns the backing array; handles are immutable once
// issued and remain valid for the lifetime of the Store.
//
// # Handles
//
// Index 0 (Invalid) always resolves to the empty stack. It is the handle
// for "no attribution" and is returned whenever a stack cannot be
// recorded:
//
//   - the Store runs in non-detailed mode, where every Put is a no-op;
//   - the stack is empty;
//   - the Store has reached its entry limit.
//
// Callers treat Invalid as "attribution lost" and continue accounting.
//
// # Lookup
//
// Stacks are located by their 64-bit hash. The first stack for a hash
// lives in a direct map; later stacks with the same hash go to a
// collision list and are resolved with CallStack.Equal. Collisions never
// cause a stack to be dropped.
//
// # Thread Safety
//
// Store is NOT thread-safe. It is designed to run under the same lock as
// the region tree it serves.
package stackstore
