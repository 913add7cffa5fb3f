package booking

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusScheduled, StatusConfirmed},
		{StatusScheduled, StatusCancelled},
		{StatusConfirmed, StatusInProgress},
		{StatusConfirmed, StatusCancelled},
		{StatusConfirmed, StatusNoShow},
		{StatusInProgress, StatusCompleted},
	}
	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusScheduled, StatusInProgress},
		{StatusScheduled, StatusCompleted},
		{StatusScheduled, StatusNoShow},
		{StatusInProgress, StatusCancelled},
		{StatusInProgress, StatusNoShow},
		{StatusCompleted, StatusCancelled},
		{StatusCancelled, StatusScheduled},
		{StatusNoShow, StatusCompleted},
		{StatusConfirmed, StatusScheduled},
	}
	for _, tt := range denied {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tt.from, tt.to)
		}
	}
}

func TestStatusOccupying(t *testing.T) {
	occupying := map[Status]bool{
		StatusScheduled:  true,
		StatusConfirmed:  true,
		StatusInProgress: true,
		StatusCompleted:  false,
		StatusCancelled:  false,
		StatusNoShow:     false,
	}
	for status, want := range occupying {
		if got := status.Occupying(); got != want {
			t.Errorf("%s.Occupying() = %v, want %v", status, got, want)
		}
	}
}
