package domain

var transitions = map[Status][]Status{
	StatusDraft:   {StatusIssued},
	StatusIssued:  {StatusPaid, StatusCancelled, StatusOverdue},
	StatusOverdue: {StatusPaid, StatusCancelled},
}

// CanTransition reports whether an invoice may move from one status to another.
// Paid and cancelled are terminal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
