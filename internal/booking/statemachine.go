package booking

// legalTransitions is the appointment state machine. Reschedule is not a
// status here: it rewrites ScheduledAt and drops the appointment back to
// SCHEDULED, since confirmation is tied to the original time.
var legalTransitions = map[Status]map[Status]bool{
	StatusScheduled: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusInProgress: true,
		StatusCancelled:  true,
		StatusNoShow:     true,
	},
	StatusInProgress: {
		StatusCompleted: true,
	},
}

func CanTransition(from, to Status) bool {
	return legalTransitions[from][to]
}
