package claims

import "sort"

func queueHead(reservations []Reservation) (Reservation, bool) {
	waiting := make([]Reservation, 0, len(reservations))
	for _, reservation := range reservations {
		if reservation.Waiting() {
			waiting = append(waiting, reservation)
		}
	}
	if len(waiting) == 0 {
		return Reservation{}, false
	}
	sort.Slice(waiting, func(left, right int) bool {
		return waiting[left].Priority < waiting[right].Priority
	})
	return waiting[0], true
}

// QueuePosition returns the 1-based position of a waiting reservation, or 0 when it is not queued.
func QueuePosition(reservations []Reservation, code ClaimCode) int {
	var target *Reservation
	for index := range reservations {
		if reservations[index].Code == code {
			target = &reservations[index]
			break
		}
	}
	if target == nil || !target.Waiting() {
		return 0
	}
	position := 1
	for _, reservation := range reservations {
		if reservation.Waiting() && reservation.Priority < target.Priority {
			position++
		}
	}
	return position
}
