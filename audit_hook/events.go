package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionRequestEnqueued     = "request.enqueued"
	ActionRequestDeduplicated = "request.deduplicated"
	ActionJobClaimed          = "job.claimed"
	ActionJobSucceeded        = "job.succeeded"
	ActionJobRetried          = "job.retried"
	ActionJobFailed           = "job.failed"
	ActionJobLost             = "job.lost"
	ActionScheduleFired       = "schedule.fired"
)

// Audit event categories group related actions.
const (
	CategoryRequest  = "backlog.request"
	CategoryJob      = "backlog.job"
	CategorySchedule = "backlog.schedule"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceRequest  = "request"
	ResourceSchedule = "schedule"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRequestEnqueued,
		ActionRequestDeduplicated,
		ActionJobClaimed,
		ActionJobSucceeded,
		ActionJobRetried,
		ActionJobFailed,
		ActionJobLost,
		ActionScheduleFired,
	}
}
