package redisbroker

import "github.com/redis/go-redis/v9"

// leaseScript atomically writes a lease record for a job that has
// already been popped off its priority list. KEYS[1] = leases hash.
// ARGV: job_id, origin_priority, expires_at (unix seconds), token, raw.
var leaseScript = redis.NewScript(`
local leases = KEYS[1]
local jobId = ARGV[1]
local originPriority = ARGV[2]
local expiresAt = ARGV[3]
local token = ARGV[4]
local raw = ARGV[5]

local record = cjson.encode({
	token = token,
	origin_priority = originPriority,
	expires_at = tonumber(expiresAt),
	raw = raw,
})
redis.call('HSET', leases, jobId, record)
return 1
`)

// popDueScript moves entries in the delayed set scored at or below
// ARGV[1] into their priority lists, up to ARGV[2] entries. KEYS[1] =
// delayed zset. Each member is "priority|raw". Returns the count moved.
var popDueScript = redis.NewScript(`
local delayed = KEYS[1]
local cutoff = ARGV[1]
local limit = tonumber(ARGV[2])
local prefix = ARGV[3]

local members = redis.call('ZRANGEBYSCORE', delayed, '-inf', cutoff, 'LIMIT', 0, limit)
local moved = 0
for _, member in ipairs(members) do
	local sep = string.find(member, '|', 1, true)
	if sep then
		local priority = string.sub(member, 1, sep - 1)
		local raw = string.sub(member, sep + 1)
		redis.call('RPUSH', prefix .. ':jobs:' .. priority, raw)
		redis.call('ZREM', delayed, member)
		moved = moved + 1
	end
end
return moved
`)

// scanExpiredScript finds leases with expires_at <= ARGV[1], pushes
// their job bytes back onto the origin priority list, and deletes the
// lease entry, up to ARGV[2] leases. KEYS[1] = leases hash.
var scanExpiredScript = redis.NewScript(`
local leases = KEYS[1]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local prefix = ARGV[3]

local cursor = '0'
local reclaimed = 0
repeat
	local result = redis.call('HSCAN', leases, cursor, 'COUNT', 100)
	cursor = result[1]
	local entries = result[2]
	for i = 1, #entries, 2 do
		if reclaimed < limit then
			local jobId = entries[i]
			local record = cjson.decode(entries[i + 1])
			if record.expires_at <= now then
				redis.call('RPUSH', prefix .. ':jobs:' .. record.origin_priority, record.raw)
				redis.call('HDEL', leases, jobId)
				reclaimed = reclaimed + 1
			end
		end
	end
until cursor == '0' or reclaimed >= limit

return reclaimed
`)

// ackScript deletes a lease iff its token matches, so a stale caller
// (one whose lease was already reclaimed and reassigned) cannot ack
// someone else's in-flight attempt. KEYS[1] = leases hash.
var ackScript = redis.NewScript(`
local leases = KEYS[1]
local jobId = ARGV[1]
local token = ARGV[2]

local raw = redis.call('HGET', leases, jobId)
if not raw then
	return 0
end
local record = cjson.decode(raw)
if record.token ~= token then
	return 0
end
redis.call('HDEL', leases, jobId)
return 1
`)

// extendLeaseScript bumps a lease's expiry iff its token matches.
// KEYS[1] = leases hash.
var extendLeaseScript = redis.NewScript(`
local leases = KEYS[1]
local jobId = ARGV[1]
local token = ARGV[2]
local newExpiry = ARGV[3]

local raw = redis.call('HGET', leases, jobId)
if not raw then
	return 0
end
local record = cjson.decode(raw)
if record.token ~= token then
	return 0
end
record.expires_at = tonumber(newExpiry)
redis.call('HSET', leases, jobId, cjson.encode(record))
return 1
`)

// releaseScript deletes a lease iff its token matches and either
// re-pushes raw to its priority list (at <= now) or inserts it into the
// delayed set scored by at (future). KEYS[1] = leases hash, KEYS[2] =
// delayed zset.
var releaseScript = redis.NewScript(`
local leases = KEYS[1]
local delayed = KEYS[2]
local jobId = ARGV[1]
local token = ARGV[2]
local raw = ARGV[3]
local priority = ARGV[4]
local now = tonumber(ARGV[5])
local at = tonumber(ARGV[6])
local prefix = ARGV[7]

local existing = redis.call('HGET', leases, jobId)
if not existing then
	return 0
end
local record = cjson.decode(existing)
if record.token ~= token then
	return 0
end
redis.call('HDEL', leases, jobId)
if at <= now then
	redis.call('RPUSH', prefix .. ':jobs:' .. priority, raw)
else
	redis.call('ZADD', delayed, at, priority .. '|' .. raw)
end
return 1
`)

// deadLetterScript deletes a lease iff its token matches and pushes raw
// onto the dead-letter list. KEYS[1] = leases hash, KEYS[2] = dlq list.
var deadLetterScript = redis.NewScript(`
local leases = KEYS[1]
local dlq = KEYS[2]
local jobId = ARGV[1]
local token = ARGV[2]
local raw = ARGV[3]

local existing = redis.call('HGET', leases, jobId)
if not existing then
	return 0
end
local record = cjson.decode(existing)
if record.token ~= token then
	return 0
end
redis.call('HDEL', leases, jobId)
redis.call('RPUSH', dlq, raw)
return 1
`)
