package patientdata

// statusOrder ranks the visit lifecycle; a patient only moves forward.
var statusOrder = map[Status]int{
	StatusWaiting:    0,
	StatusInProgress: 1,
	StatusCompleted:  2,
}

func ValidStatus(s Status) bool {
	_, ok := statusOrder[s]
	return ok
}

// CanTransition reports whether moving from one status to another keeps the
// waiting -> in-progress -> completed order. Staying put is allowed.
func CanTransition(from, to Status) bool {
	f, ok := statusOrder[from]
	if !ok {
		return false
	}
	t, ok := statusOrder[to]
	if !ok {
		return false
	}
	return t >= f
}

// Queued returns the patients whose visit is not completed, in input order.
func Queued(patients []Patient) []Patient {
	out := []Patient{}
	for _, p := range patients {
		if p.Status != StatusCompleted {
			out = append(out, p)
		}
	}
	return out
}

// Completed returns the patients whose visit is completed, in input order.
func Completed(patients []Patient) []Patient {
	out := []Patient{}
	for _, p := range patients {
		if p.Status == StatusCompleted {
			out = append(out, p)
		}
	}
	return out
}
