// Package core provides the business logic for repository spreadsheet imports.
//
// This package is the heart of the importer, containing all domain logic
// independent of any transport layer. It is used by the HTTP server, the CLI,
// and tests without modification.
//
// # Architecture
//
// An import moves through these pieces, leaves first:
//
//   - Value coercers ([Coerce]): one handler per column type turning raw cell
//     text into a typed [Value], or [ErrUnparseable].
//   - Row matcher ([MatchRow]): finds the existing record a row refers to.
//   - Cell reconciler ([ReconcileCell]): decides create, update, delete or
//     no-op for one cell. Stock columns append ledger entries.
//   - Row importer: runs one row inside its own unit of work and assigns its
//     [RowStatus].
//   - Batch coordinator ([Coordinator.Run]): validates the [Mapping], computes
//     duplicate codes, iterates rows and builds the [BatchReport].
//   - [Service]: loads schema and records through a [Store], limits
//     concurrent batches and records metrics.
//
// # Preview
//
// Preview and commit share one code path. Writes go to a [RowSink]: the store
// provides a committing sink bound to a per-row transaction, while
// [PreviewSink] keeps everything in memory and hands out synthetic ids. Counts
// and per-row outcomes therefore match between the two modes.
//
// # Mapping markers
//
// Clients send one marker per spreadsheet column:
//
//	"0"              identifier column (values like "IT42" or "42")
//	"-1"             name column
//	"" / "do_not_import"  skipped
//	"<column id>"    repository column
//
// # Error Handling
//
// Row-level problems never abort a batch: the row becomes invalid with a
// comma-joined message. Only a conflicting mapping is batch-fatal
// ([MappingError]). Technical errors are mapped to user messages with support
// codes by [MapError].
package core
