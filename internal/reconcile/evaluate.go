// Package reconcile decides, tick by tick, what each room's occupancy means
// against its reservations.
package reconcile

import (
	"time"

	"roomwatch-backend/internal/model"
	"roomwatch-backend/internal/params"
)

// Decision lists the side effects a single evaluation asks for. Evaluate never
// performs them itself.
type Decision struct {
	MarkCheckedIn bool
	RecordNoShow  bool
	Complete      bool
}

// Evaluate computes a room's status from the current reading and the candidate
// reservation. It is a pure function: equal inputs give equal outputs.
//
// Rules, first match wins:
//   - no candidate: FREE when empty, OCCUPIED_UNMATCHED otherwise
//   - before the arrival window: AWAITING_ARRIVAL
//   - occupied past end: CLEANUP within the cleanup margin, then ALERT overstay
//   - occupied: OCCUPIED_MATCHED
//
// Occupancy in either of the two rules above checks the reservation in.
// The remaining rules apply to an empty room:
//   - after a check-in: OCCUPIED_MATCHED until end, then COMPLETED
//   - never checked in: AWAITING_ARRIVAL through the arrival window and
//     the grace period, then ALERT no_show
func Evaluate(now time.Time, reading model.Reading, cand *model.Reservation, p params.StateParams, prev model.RoomStatus) (model.RoomStatus, Decision) {
	people := reading.PeopleCount
	if people < 0 {
		people = 0
	}
	st := model.RoomStatus{
		Timestamp:   now,
		RoomID:      reading.RoomID,
		PeopleCount: people,
		IsUsed:      people > 0,
	}

	if cand == nil {
		return unscheduled(st), Decision{}
	}

	var d Decision
	id := cand.ID
	st.ReservationID = &id

	switch {
	case now.Before(cand.StartTime.Add(-p.ArrivalWindowBefore())):
		st.RoomState = model.RoomAwaitingArrival

	case people > 0 && now.After(cand.EndTime):
		d.MarkCheckedIn = cand.CheckedInAt == nil
		if now.Sub(cand.EndTime) <= p.CleanupMargin() {
			st.RoomState = model.RoomCleanup
		} else {
			st = alert(st, model.AlertOverstay)
		}

	case people > 0:
		st.RoomState = model.RoomOccupiedMatched
		d.MarkCheckedIn = cand.CheckedInAt == nil

	case cand.CheckedInAt != nil:
		if now.After(cand.EndTime) {
			d.Complete = true
			st.ReservationID = nil
			return unscheduled(st), d
		}
		st.RoomState = model.RoomOccupiedMatched

	default:
		deadline := cand.StartTime.Add(p.ArrivalWindowAfter())
		if !now.After(deadline) || now.Sub(deadline) <= p.GracePeriod() {
			st.RoomState = model.RoomAwaitingArrival
			break
		}
		st = alert(st, model.AlertNoShow)
		d.RecordNoShow = !alreadyAlerted(prev, id, model.AlertNoShow)
	}
	return st, d
}

func unscheduled(st model.RoomStatus) model.RoomStatus {
	if st.PeopleCount > 0 {
		st.RoomState = model.RoomOccupiedUnmatched
	} else {
		st.RoomState = model.RoomFree
	}
	return st
}

func alert(st model.RoomStatus, reason model.AlertReason) model.RoomStatus {
	st.RoomState = model.RoomAlert
	st.Alert = true
	st.AlertReason = reason
	return st
}

// alreadyAlerted reports whether prev is the same alert for the same reservation.
func alreadyAlerted(prev model.RoomStatus, reservationID string, reason model.AlertReason) bool {
	return prev.RoomState == model.RoomAlert &&
		prev.AlertReason == reason &&
		prev.ReservationID != nil &&
		*prev.ReservationID == reservationID
}
