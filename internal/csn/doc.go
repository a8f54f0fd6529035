// Package csn holds the linked schema the query lowerer reads.
//
// A Model is an arena of definitions indexed by fully-qualified name.
// Associations point at their target by name, never by pointer, so
// self-referencing and cyclic schemas need no special handling.
//
// NewModel links the raw definitions once:
//   - named structured types and "type of" references are resolved into
//     each element,
//   - managed associations without explicit keys get the target's
//     primary key,
//   - every association is classified (see AssociationKind),
//   - every definition gets its flattened column index.
//
// A linked Model is never mutated and is safe for concurrent readers.
package csn
