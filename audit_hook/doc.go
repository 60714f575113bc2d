// Package audithook is a backlog extension that turns lifecycle events
// into structured audit records.
//
// Every enqueue, claim, terminal outcome and schedule fire produces an
// [AuditEvent] through the [Recorder] interface. Severity follows the
// outcome: info for normal operation, warning for retries and
// de-duplication, critical for failed and lost jobs.
//
// # Logging audit events
//
//	eng, _ := engine.New(store,
//	    engine.WithExtension(audithook.New(audithook.SlogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobLost,
//	    ),
//	)
package audithook
