// Package bitset provides the fixed-size bit sets used by the allocator's
// bookkeeping.
//
// Architecture:
//   - Atomic: fixed length, atomic.Uint64 words, safe for one writer per bit
//     and concurrent readers (allocation bitmaps, mark bits)
//   - Mask: a uint32 value type used as a size-class availability mask
//
// Used internally for:
//   - Allocation start/end, nursery-owned and mark bitmaps of chunks and small regions
//   - The small-region bitmap of a chunk
//   - Free list availability
package bitset
