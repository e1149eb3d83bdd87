package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFormatAuditLine(t *testing.T) {
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	confirmed, _ := json.Marshal(BookingConfirmedEvent{
		BookingID:    42,
		SessionToken: "tok",
		CustomerID:   "cust-1",
		Seats:        []BookedSeat{{TripID: 101, SeatID: 5, Label: "B2"}, {TripID: 101, SeatID: 6}},
		ConfirmedAt:  at,
	})
	released, _ := json.Marshal(HoldReleasedEvent{
		SessionToken: "tok",
		CustomerID:   "cust-1",
		TripIDs:      []int64{101, 102},
		Released:     3,
		ReleasedAt:   at,
	})
	for _, tc := range []struct {
		queue string
		body  []byte
		want  string
	}{
		{BookingConfirmedQueue, confirmed, `[2026-05-04T09:00:00Z] Booking confirmed | booking_id=42 | customer="cust-1" | session=tok | seats=[101/5(B2),101/6]` + "\n"},
		{HoldReleasedQueue, released, `[2026-05-04T09:00:00Z] Hold released | customer="cust-1" | session=tok | trips=[101,102] | released=3` + "\n"},
	} {
		got, err := FormatAuditLine(tc.queue, tc.body)
		if err != nil {
			t.Fatalf("%s: %v", tc.queue, err)
		}
		if got != tc.want {
			t.Errorf("%s:\ngot  %q\nwant %q", tc.queue, got, tc.want)
		}
	}

	if _, err := FormatAuditLine("other", confirmed); err == nil {
		t.Error("unknown queue accepted")
	}
	if _, err := FormatAuditLine(BookingConfirmedQueue, []byte("{")); err == nil {
		t.Error("malformed body accepted")
	}
}

func TestRecordAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "booking.log")
	a := NewAuditConsumer("amqp://unused/", path)
	body, _ := json.Marshal(HoldReleasedEvent{SessionToken: "tok", TripIDs: []int64{1}, Released: 1})
	for i := 0; i < 2; i++ {
		if err := a.record(HoldReleasedQueue, body); err != nil {
			t.Fatal(err)
		}
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(bs), "Hold released"); n != 2 {
		t.Errorf("%d lines recorded, want 2", n)
	}
}
