package seatlock

import (
	"sort"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// normalizeRequests drops non-positive ids, collapses duplicates and sorts
// by (trip, seat).  Of duplicate requests the first non-empty leg is kept.
func normalizeRequests(reqs []SeatRequest) ([]model.SeatRef, map[model.SeatRef]string) {
	legs := make(map[model.SeatRef]string, len(reqs))
	refs := make([]model.SeatRef, 0, len(reqs))
	for _, r := range reqs {
		if r.TripID <= 0 || r.SeatID <= 0 {
			continue
		}
		ref := model.SeatRef{TripID: r.TripID, SeatID: r.SeatID}
		leg, seen := legs[ref]
		if !seen {
			refs = append(refs, ref)
		}
		if leg == "" {
			legs[ref] = r.Leg
		}
	}
	sortRefs(refs)
	return refs, legs
}

// normalizeRefs applies the same rules to bare references.
func normalizeRefs(in []model.SeatRef) []model.SeatRef {
	seen := make(map[model.SeatRef]struct{}, len(in))
	out := make([]model.SeatRef, 0, len(in))
	for _, ref := range in {
		if ref.TripID <= 0 || ref.SeatID <= 0 {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	sortRefs(out)
	return out
}

// normalizeIDs drops non-positive ids, deduplicates and sorts.
func normalizeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortRefs(refs []model.SeatRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].TripID != refs[j].TripID {
			return refs[i].TripID < refs[j].TripID
		}
		return refs[i].SeatID < refs[j].SeatID
	})
}

// tripsOf returns the distinct trip ids of sorted refs, in order.
func tripsOf(refs []model.SeatRef) []int64 {
	var trips []int64
	for _, ref := range refs {
		if n := len(trips); n == 0 || trips[n-1] != ref.TripID {
			trips = append(trips, ref.TripID)
		}
	}
	return trips
}
