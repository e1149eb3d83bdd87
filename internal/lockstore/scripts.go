package lockstore

import "github.com/redis/go-redis/v9"

// luaKeys is prepended to every script.  It mirrors Keys: key names are
// always built from (trip, seat, token) parts, never derived from another
// key's name.  ARGV[1] is the key prefix in every script.
const luaKeys = `
local prefix = ARGV[1]
local function seat_key(trip, seat) return prefix .. ':trip:' .. trip .. ':seat:' .. seat end
local function locked_key(trip) return prefix .. ':trip:' .. trip .. ':locked' end
local function owned_key(trip, token) return prefix .. ':trip:' .. trip .. ':owner:' .. token end
local function session_key(token) return prefix .. ':session:' .. token end

-- raise_ttl never shortens a key's lifetime; missing keys are left alone.
local function raise_ttl(key, ttl)
    local cur = redis.call('PTTL', key)
    if cur ~= -2 and cur < ttl then
        redis.call('PEXPIRE', key, ttl)
    end
end
`

// acquireScript locks a batch of seats for one token, all or nothing.
//
// ARGV: prefix, token, ttl_ms, max_per_trip, now_ms, group_count, then per
// group: trip_id, seat_count, seat_id...
//
// Returns {acquired, {trip, seat, ...}, {trip, held, requested, ...},
// shortest_pttl_ms}.  The last element is 0 unless acquired.
var acquireScript = redis.NewScript(luaKeys + `
local token = ARGV[2]
local ttl = tonumber(ARGV[3])
local max = tonumber(ARGV[4])
local now = tonumber(ARGV[5])
local ngroups = tonumber(ARGV[6])

local groups = {}
local idx = 7
for g = 1, ngroups do
    local trip = ARGV[idx]
    local n = tonumber(ARGV[idx + 1])
    local seats = {}
    for i = 1, n do
        seats[i] = ARGV[idx + 1 + i]
    end
    groups[g] = { trip = trip, seats = seats }
    idx = idx + 2 + n
end

local conflicts = {}
local quota = {}
for _, g in ipairs(groups) do
    local okey = owned_key(g.trip, token)
    local held = 0
    for _, member in ipairs(redis.call('SMEMBERS', okey)) do
        if redis.call('GET', seat_key(g.trip, member)) == token then
            held = held + 1
        else
            redis.call('SREM', okey, member)
        end
    end

    local fresh = 0
    for _, seat in ipairs(g.seats) do
        local owner = redis.call('GET', seat_key(g.trip, seat))
        if not owner then
            fresh = fresh + 1
        elseif owner ~= token then
            table.insert(conflicts, g.trip)
            table.insert(conflicts, seat)
        elseif redis.call('SISMEMBER', okey, seat) == 0 then
            -- owned but missing from the index; count it once
            held = held + 1
        end
    end

    if held + fresh > max then
        table.insert(quota, g.trip)
        table.insert(quota, held)
        table.insert(quota, fresh)
    end
end

if #conflicts > 0 or #quota > 0 then
    return { 0, conflicts, quota, 0 }
end

local shortest = -1

for _, g in ipairs(groups) do
    local lkey = locked_key(g.trip)
    local okey = owned_key(g.trip, token)
    local group_longest = ttl
    for _, seat in ipairs(g.seats) do
        local skey = seat_key(g.trip, seat)
        local remaining = redis.call('PTTL', skey)
        if remaining < ttl then
            redis.call('SET', skey, token, 'PX', ttl)
            remaining = ttl
        end
        if remaining > group_longest then
            group_longest = remaining
        end
        if shortest < 0 or remaining < shortest then
            shortest = remaining
        end
        redis.call('ZADD', lkey, now + remaining, seat)
        redis.call('SADD', okey, seat)
    end
    raise_ttl(lkey, group_longest)
    raise_ttl(okey, group_longest)
end

local skey = session_key(token)
if redis.call('PTTL', skey) < ttl then
    redis.call('SET', skey, '1', 'PX', ttl)
end

return { 1, conflicts, quota, shortest }
`)

// releaseScript deletes every lock a token still owns on the given trips.
// A seat whose lock now belongs to someone else is left untouched.
//
// ARGV: prefix, token, trip_id...
//
// Returns the number of locks deleted.
var releaseScript = redis.NewScript(luaKeys + `
local token = ARGV[2]
local released = 0
for i = 3, #ARGV do
    local trip = ARGV[i]
    local okey = owned_key(trip, token)
    local lkey = locked_key(trip)
    for _, seat in ipairs(redis.call('SMEMBERS', okey)) do
        local skey = seat_key(trip, seat)
        if redis.call('GET', skey) == token then
            redis.call('DEL', skey)
            redis.call('ZREM', lkey, seat)
            released = released + 1
        end
    end
    redis.call('DEL', okey)
end
return released
`)

// lockedScript lists live locks on a trip and prunes index entries whose
// lock has lapsed.
//
// ARGV: prefix, trip_id, [seat_id...]; no seat ids means the whole trip.
//
// Returns {seat, pttl_ms, ...}.
var lockedScript = redis.NewScript(luaKeys + `
local trip = ARGV[2]
local lkey = locked_key(trip)
local seats = {}
if #ARGV > 2 then
    for i = 3, #ARGV do
        if redis.call('ZSCORE', lkey, ARGV[i]) then
            table.insert(seats, ARGV[i])
        end
    end
else
    seats = redis.call('ZRANGE', lkey, 0, -1)
end

local out = {}
for _, seat in ipairs(seats) do
    local pttl = redis.call('PTTL', seat_key(trip, seat))
    if pttl > 0 then
        table.insert(out, seat)
        table.insert(out, pttl)
    else
        redis.call('ZREM', lkey, seat)
    end
end
return out
`)

// countScript prunes expired index entries and counts the rest, per trip.
//
// ARGV: prefix, now_ms, trip_id...
//
// Returns one count per trip, in argument order.
var countScript = redis.NewScript(luaKeys + `
local now = ARGV[2]
local out = {}
for i = 3, #ARGV do
    local lkey = locked_key(ARGV[i])
    redis.call('ZREMRANGEBYSCORE', lkey, '-inf', now)
    table.insert(out, redis.call('ZCARD', lkey))
end
return out
`)

// extendScript sets the TTL of locks still owned by a token.
//
// ARGV: prefix, token, ttl_ms, now_ms, then trip_id, seat_id pairs.
//
// Returns {{trip, seat, ...extended}, {trip, seat, ...missing}}.
var extendScript = redis.NewScript(luaKeys + `
local token = ARGV[2]
local ttl = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local extended = {}
local missing = {}
for i = 5, #ARGV - 1, 2 do
    local trip = ARGV[i]
    local seat = ARGV[i + 1]
    local skey = seat_key(trip, seat)
    if redis.call('GET', skey) == token then
        redis.call('PEXPIRE', skey, ttl)
        local lkey = locked_key(trip)
        local okey = owned_key(trip, token)
        redis.call('ZADD', lkey, now + ttl, seat)
        redis.call('SADD', okey, seat)
        raise_ttl(lkey, ttl)
        raise_ttl(okey, ttl)
        table.insert(extended, trip)
        table.insert(extended, seat)
    else
        table.insert(missing, trip)
        table.insert(missing, seat)
    end
end
return { extended, missing }
`)
