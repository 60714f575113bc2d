// Package postgres implements job.Store on PostgreSQL using pgx/v5.
//
// Admission runs in a READ COMMITTED transaction that first takes
// pg_advisory_xact_lock(hashtext('backlog|' || key)). The lock serialises
// every writer for the key, so the key-state query and the insert behave
// as one step. Claims are a single conditional UPDATE.
package postgres
