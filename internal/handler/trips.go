package handler

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/seatlock"
)

// maxAvailabilityTrips caps the trip_ids list of one availability request.
const maxAvailabilityTrips = 100

// TripsHandler serves public seat maps and availability counters.  No
// authentication is required.
type TripsHandler struct {
	Locks *seatlock.Manager
}

// NewTripsHandler returns a TripsHandler.
func NewTripsHandler(locks *seatlock.Manager) *TripsHandler {
	if locks == nil {
		panic("nil seat lock manager passed to NewTripsHandler")
	}
	return &TripsHandler{Locks: locks}
}

// parseIDList parses "1,2,3".  Blank items are skipped; a malformed one is an
// error.
func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type lockedSeatView struct {
	SeatID    int64  `json:"seat_id"`
	SeatLabel string `json:"seat_label,omitempty"`
	TTLMs     int64  `json:"ttl_ms"`
}

// SeatStatus handles GET /v1/trips/:id/seats.  The optional seat_ids query
// narrows the answer to those seats.  Seats listed neither as booked nor as
// locked are free.
func (h *TripsHandler) SeatStatus(c echo.Context) error {
	tripID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || tripID <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	}
	seatIDs, err := parseIDList(c.QueryParam("seat_ids"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat_ids"})
	}
	st, err := h.Locks.LoadStatus(c.Request().Context(), tripID, seatIDs)
	if err != nil {
		return lockError(c, err)
	}
	locked := make([]lockedSeatView, 0, len(st.Locked))
	for _, l := range st.Locked {
		locked = append(locked, lockedSeatView{SeatID: l.SeatID, SeatLabel: l.SeatLabel, TTLMs: l.TTL.Milliseconds()})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"trip_id": st.TripID,
		"booked":  st.Booked,
		"locked":  locked,
	})
}

type availabilityView struct {
	TripID    int64 `json:"trip_id"`
	Total     int   `json:"total"`
	Booked    int   `json:"booked"`
	Locked    int   `json:"locked"`
	Available int   `json:"available"`
}

// Availability handles GET /v1/trips/availability?trip_ids=1,2,3 for search
// result pages.  Counters are a snapshot; a seat may change state between
// the durable and lock store reads.
func (h *TripsHandler) Availability(c echo.Context) error {
	tripIDs, err := parseIDList(c.QueryParam("trip_ids"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip_ids"})
	}
	if len(tripIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "trip_ids is required"})
	}
	if len(tripIDs) > maxAvailabilityTrips {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "too many trip_ids", "max": maxAvailabilityTrips})
	}
	counters, err := h.Locks.CountersForTrips(c.Request().Context(), tripIDs, time.Time{})
	if err != nil {
		if errors.Is(err, seatlock.ErrStoreUnavailable) {
			return lockError(c, err)
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	out := make([]availabilityView, 0, len(counters))
	for id, ct := range counters {
		avail := ct.Total - ct.Booked - ct.Locked
		if avail < 0 {
			avail = 0
		}
		out = append(out, availabilityView{TripID: id, Total: ct.Total, Booked: ct.Booked, Locked: ct.Locked, Available: avail})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	return c.JSON(http.StatusOK, echo.Map{"trips": out})
}
