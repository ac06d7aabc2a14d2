package booking

import "testing"

var allStatuses = []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled}

// expectedEffective applies the priority rules directly so the full 4x4
// enumeration below checks Effective against an independent statement of the
// table rather than against itself.
func expectedEffective(therapist, store Status) Status {
	switch {
	case therapist == StatusCancelled || store == StatusCancelled:
		return StatusCancelled
	case bothAtLeastConfirmed(therapist, store) && (therapist == StatusCompleted || store == StatusCompleted):
		return StatusCompleted
	case therapist == StatusConfirmed && store == StatusConfirmed:
		return StatusConfirmed
	default:
		return StatusPending
	}
}

func bothAtLeastConfirmed(a, b Status) bool {
	in := func(s Status) bool { return s == StatusConfirmed || s == StatusCompleted }
	return in(a) && in(b)
}

func TestEffective_FullEnumeration(t *testing.T) {
	for _, therapist := range allStatuses {
		for _, store := range allStatuses {
			pair := Pair{Therapist: therapist, Store: store}
			got := pair.Effective()
			want := expectedEffective(therapist, store)
			if got != want {
				t.Errorf("Effective(%s, %s) = %s, want %s", therapist, store, got, want)
			}
		}
	}
}

func TestEffective_SoloTherapist(t *testing.T) {
	cases := []struct {
		therapist Status
		want      Status
	}{
		{StatusPending, StatusPending},
		{StatusConfirmed, StatusConfirmed},
		{StatusCompleted, StatusCompleted},
		{StatusCancelled, StatusCancelled},
	}
	for _, tc := range cases {
		// Store column is irrelevant for a solo booking; vary it to prove so.
		for _, store := range allStatuses {
			pair := Pair{Therapist: tc.therapist, Store: store, SoloTherapist: true}
			if got := pair.Effective(); got != tc.want {
				t.Errorf("solo Effective(%s, store=%s) = %s, want %s", tc.therapist, store, got, tc.want)
			}
		}
	}
}

func TestJustConverged_FiresOnlyOnPendingToConfirmed(t *testing.T) {
	for _, pt := range allStatuses {
		for _, ps := range allStatuses {
			for _, nt := range allStatuses {
				for _, ns := range allStatuses {
					prev := Pair{Therapist: pt, Store: ps}
					next := Pair{Therapist: nt, Store: ns}
					want := prev.Effective() == StatusPending && next.Effective() == StatusConfirmed
					if got := JustConverged(prev, next); got != want {
						t.Errorf("JustConverged(%v -> %v) = %v, want %v", prev, next, got, want)
					}
				}
			}
		}
	}
}

func TestJustConverged_OrderIndependence(t *testing.T) {
	start := Pair{Therapist: StatusPending, Store: StatusPending}

	// Therapist confirms first.
	mid1 := Pair{Therapist: StatusConfirmed, Store: StatusPending}
	end1 := Pair{Therapist: StatusConfirmed, Store: StatusConfirmed}

	// Store confirms first.
	mid2 := Pair{Therapist: StatusPending, Store: StatusConfirmed}
	end2 := Pair{Therapist: StatusConfirmed, Store: StatusConfirmed}

	fires1 := 0
	if JustConverged(start, mid1) {
		fires1++
	}
	if JustConverged(mid1, end1) {
		fires1++
	}

	fires2 := 0
	if JustConverged(start, mid2) {
		fires2++
	}
	if JustConverged(mid2, end2) {
		fires2++
	}

	if fires1 != 1 || fires2 != 1 {
		t.Fatalf("expected exactly one convergence in each order, got %d and %d", fires1, fires2)
	}
	if end1.Effective() != end2.Effective() {
		t.Fatalf("final effective status differs by order: %s vs %s", end1.Effective(), end2.Effective())
	}
}

func TestJustConverged_NotOnRereadOfConfirmedPair(t *testing.T) {
	confirmed := Pair{Therapist: StatusConfirmed, Store: StatusConfirmed}
	if JustConverged(confirmed, confirmed) {
		t.Fatal("re-evaluating an already-confirmed pair must not converge again")
	}
}
