// Package cron enqueues recurring jobs.
//
// Schedules come from two places: definitions registered with
// job.WithSchedule, and static [Entry] values supplied by configuration.
// On every tick the [Scheduler] computes, for each schedule, the latest
// fire instant since its previous tick and enqueues one request for it.
//
// # Coordination
//
// There is no leader. Every scheduler enqueues a fire instant under the
// concurrency key returned by [InstantKey] with job.AdmitOnce, which
// rejects the request when one is already pending, claimed or finished
// under that key. Running a scheduler in every worker process is safe.
//
// # Missed instants
//
// Only the latest instant in a tick window fires. A process that was down
// for an hour fires once on its first tick, not sixty times.
package cron
