// Package core provides the business logic for event bulk imports.
//
// An operator uploads a spreadsheet describing events, attendees, agenda
// items and presenters. The package turns it into persisted records while
// tolerating bad rows, never creating the same entity twice, and keeping
// memory bounded on large files. It has no transport dependencies.
//
// # Flow
//
//  1. [Service.CreateJob] parses the file ([ParseFile]) and stores a pending
//     [ImportJob] carrying the parsed rows and a suggested column mapping.
//  2. The operator reviews the preview and may confirm a different mapping
//     with [Service.UpdateMapping].
//  3. [Service.StartImport] (background) or [Service.ProcessImport] (inline)
//     hands the job to the [Processor], which runs the import type's
//     strategy over every row.
//  4. The job ends completed (with per-row errors, if any) or failed (with a
//     single job-level error when it could not start).
//
// # Import Types
//
// Import types are registered at init time in the registry. Each
// [ImportDefinition] lists its expected fields and the strategy that
// processes its rows:
//
//   - complete: event plus any agenda, presenter and attendee data on the row
//   - events_only: events only
//   - attendees_only, agenda_only, presenters_only: data attached to an
//     event that must already exist
//
// # Column Mapping
//
// Headers are matched to expected fields with a similar-text score
// ([Similarity]) against each field's synonyms; only scores above 70 are
// suggested. The suggestion is advisory: [Row.Value] falls back to every
// synonym directly, so a bad mapping never blocks an import.
//
// # Row Isolation
//
// Each row runs in its own repository transaction. A row that fails is
// rolled back and recorded with its line number; earlier rows stay
// committed and later rows still run. Every batch of rows the processor
// checkpoints: cached entities are released and progress is persisted.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code for support reference:
//
//   - DB001-DB006: Database errors
//   - VAL001-VAL006: Validation errors (row values, mappings, requests)
//   - REF001, TX001: Missing references and failed row transactions
//   - FILE001-FILE005: File errors
//   - IMP001-IMP007: Import job errors
package core
