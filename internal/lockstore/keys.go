package lockstore

import "strconv"

// DefaultPrefix namespaces every key.  The braces are a Redis Cluster hash
// tag: all keys of one deployment hash to the same slot, which keeps the
// multi-key scripts legal on a cluster.
const DefaultPrefix = "{seatlock}"

// Keys builds key names.  The Lua scripts build the same names from the same
// parts; the two must stay in step.
type Keys struct {
	Prefix string
}

// Seat is the lock key of one seat on one trip.  Its value is the owner token.
func (k Keys) Seat(tripID, seatID int64) string {
	return k.Prefix + ":trip:" + strconv.FormatInt(tripID, 10) + ":seat:" + strconv.FormatInt(seatID, 10)
}

// Locked is the sorted set of locked seats on a trip, scored by expiry in
// unix milliseconds.
func (k Keys) Locked(tripID int64) string {
	return k.Prefix + ":trip:" + strconv.FormatInt(tripID, 10) + ":locked"
}

// Owned is the set of seats a token holds on a trip.
func (k Keys) Owned(tripID int64, token string) string {
	return k.Prefix + ":trip:" + strconv.FormatInt(tripID, 10) + ":owner:" + token
}

// Session is the checkout session key of a token.
func (k Keys) Session(token string) string {
	return k.Prefix + ":session:" + token
}
