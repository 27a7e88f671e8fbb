package redis

import "github.com/redis/go-redis/v9"

// State transitions that touch several keys run as Lua so a concurrent
// caller or a crashed process can never observe a job half-moved
// between the ready queue, the delayed set, and the processing set.
//
// Every script takes the job hash key layout for granted: field names
// here mirror the constants in codec.go.

// claimScript promotes due delayed jobs into the ready queue, then
// claims up to ARGV[2] jobs whose type appears in the allowed list,
// lowest score first. Claimed jobs move to the processing zset, scored
// by claim time so stale claims are detectable, with status running and
// an incremented attempt.
//
// The scan pages past ineligible candidates (foreign types, delayed
// retries) rather than stopping at the first page, so a backlog of
// jobs this process cannot serve does not starve the ones it can. The
// page budget bounds script time; a backlog of ineligible jobs larger
// than the budget delays lower-ranked eligible ones until it drains.
//
// KEYS: 1=pending 2=delayed 3=processing
// ARGV: 1=nowMillis 2=maxClaim 3=jobKeyPrefix 4=nowIso 5..=allowed types
var claimScript = redis.NewScript(`
local pending = KEYS[1]
local delayed = KEYS[2]
local processing = KEYS[3]
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local prefix = ARGV[3]
local nowIso = ARGV[4]

local allowed = {}
for i = 5, #ARGV do
  allowed[ARGV[i]] = true
end

local due = redis.call('ZRANGEBYSCORE', delayed, '-inf', now, 'LIMIT', 0, 128)
for _, id in ipairs(due) do
  local score = redis.call('HGET', prefix .. id, 'score')
  if score then
    redis.call('ZADD', pending, score, id)
  end
  redis.call('ZREM', delayed, id)
end

local claimed = {}
if max <= 0 then
  return claimed
end

local offset = 0
local scanned = 0
while #claimed < max and scanned < 1024 do
  local page = redis.call('ZRANGE', pending, offset, offset + 127)
  if #page == 0 then
    break
  end
  local taken = 0
  for _, id in ipairs(page) do
    if #claimed >= max then
      break
    end
    local key = prefix .. id
    local jobType = redis.call('HGET', key, 'type')
    local notBefore = redis.call('HGET', key, 'not_before_ms')
    local eligible = (not notBefore) or tonumber(notBefore) <= now
    if jobType and allowed[jobType] and eligible then
      redis.call('ZREM', pending, id)
      redis.call('ZADD', processing, now, id)
      redis.call('HSET', key, 'status', 'running', 'started_at', nowIso)
      redis.call('HINCRBY', key, 'attempt', 1)
      redis.call('HDEL', key, 'not_before_ms')
      claimed[#claimed + 1] = id
      taken = taken + 1
    end
  end
  scanned = scanned + #page
  offset = offset + #page - taken
end
return claimed
`)

// reapScript requeues claims whose processing score is older than the
// stale threshold: their owner died between claim and commit (or lost
// its lease to a handler overrunning it). Jobs with attempts left go
// back to the ready queue; exhausted ones fail and dead-letter. The
// caller excludes the ids its own live handlers hold, so only orphaned
// claims are reaped.
//
// KEYS: 1=pending 2=processing 3=dead
// ARGV: 1=staleBeforeMillis 2=error 3=nowIso 4=deadLetter(0|1)
//       5=jobKeyPrefix 6..=locally running ids
// Returns a flat list of (id, outcome) pairs, outcome 'pending' or
// 'failed'.
var reapScript = redis.NewScript(`
local pending = KEYS[1]
local processing = KEYS[2]
local dead = KEYS[3]
local staleBefore = tonumber(ARGV[1])
local errMsg = ARGV[2]
local nowIso = ARGV[3]
local deadLetter = ARGV[4] == '1'
local prefix = ARGV[5]

local own = {}
for i = 6, #ARGV do
  own[ARGV[i]] = true
end

local out = {}
local stale = redis.call('ZRANGEBYSCORE', processing, '-inf', staleBefore, 'LIMIT', 0, 128)
for _, id in ipairs(stale) do
  if not own[id] then
    redis.call('ZREM', processing, id)
    local key = prefix .. id
    if redis.call('EXISTS', key) == 1 then
      local attempt = tonumber(redis.call('HGET', key, 'attempt') or '0')
      local maxAttempts = tonumber(redis.call('HGET', key, 'max_attempts') or '0')
      if attempt < maxAttempts then
        local score = redis.call('HGET', key, 'score')
        redis.call('HSET', key, 'status', 'pending', 'error', errMsg)
        redis.call('HDEL', key, 'started_at', 'cancel_requested')
        redis.call('ZADD', pending, score, id)
        out[#out + 1] = id
        out[#out + 1] = 'pending'
      else
        redis.call('HSET', key, 'status', 'failed', 'error', errMsg, 'completed_at', nowIso)
        redis.call('HDEL', key, 'cancel_requested')
        if deadLetter then
          redis.call('HSET', key, 'dead', 1)
          redis.call('RPUSH', dead, id)
        end
        out[#out + 1] = id
        out[#out + 1] = 'failed'
      end
    end
  end
end
return out
`)

// completeScript commits a successful execution, unless cancellation
// was requested while the handler ran, in which case the result is
// discarded and the job lands cancelled. A claim the reaper already
// took back commits as 'stale' and changes nothing; the job's fate
// belongs to whoever re-claimed it.
//
// KEYS: 1=processing 2=job
// ARGV: 1=jobID 2=result 3=nowIso
// Returns the final status string.
var completeScript = redis.NewScript(`
local processing = KEYS[1]
local key = KEYS[2]
local id = ARGV[1]
local result = ARGV[2]
local nowIso = ARGV[3]

if not redis.call('ZSCORE', processing, id) then
  return 'stale'
end
redis.call('ZREM', processing, id)
if redis.call('HGET', key, 'cancel_requested') == '1' then
  redis.call('HDEL', key, 'cancel_requested', 'result')
  redis.call('HSET', key, 'status', 'cancelled', 'completed_at', nowIso)
  return 'cancelled'
end

redis.call('HSET', key, 'status', 'completed', 'progress', 100, 'completed_at', nowIso)
redis.call('HDEL', key, 'error')
if #result > 0 then
  redis.call('HSET', key, 'result', result)
end
return 'completed'
`)

// failScript commits a failed execution: cancelled if requested,
// re-queued into the delayed set while attempts remain, otherwise
// terminally failed and optionally dead-lettered. Returns 'stale'
// without touching the job when the reaper already revoked the claim.
//
// KEYS: 1=processing 2=job 3=delayed 4=dead
// ARGV: 1=jobID 2=error 3=nowIso 4=retryAtMillis 5=deadLetter(0|1)
// Returns the final status string ('pending' means retry scheduled,
// 'dead' means failed and parked).
var failScript = redis.NewScript(`
local processing = KEYS[1]
local key = KEYS[2]
local delayed = KEYS[3]
local dead = KEYS[4]
local id = ARGV[1]
local errMsg = ARGV[2]
local nowIso = ARGV[3]
local retryAt = tonumber(ARGV[4])
local deadLetter = ARGV[5] == '1'

if not redis.call('ZSCORE', processing, id) then
  return 'stale'
end
redis.call('ZREM', processing, id)
if redis.call('HGET', key, 'cancel_requested') == '1' then
  redis.call('HDEL', key, 'cancel_requested')
  redis.call('HSET', key, 'status', 'cancelled', 'completed_at', nowIso)
  return 'cancelled'
end

local attempt = tonumber(redis.call('HGET', key, 'attempt') or '0')
local maxAttempts = tonumber(redis.call('HGET', key, 'max_attempts') or '0')
if attempt < maxAttempts then
  redis.call('HSET', key, 'status', 'pending', 'error', errMsg, 'not_before_ms', retryAt)
  redis.call('HDEL', key, 'started_at')
  redis.call('ZADD', delayed, retryAt, id)
  return 'pending'
end

redis.call('HSET', key, 'status', 'failed', 'error', errMsg, 'completed_at', nowIso)
if deadLetter then
  redis.call('HSET', key, 'dead', 1)
  redis.call('RPUSH', dead, id)
  return 'dead'
end
return 'failed'
`)

// cancelScript cancels a pending job outright or flags a running job
// for cooperative cancellation.
//
// KEYS: 1=pending 2=delayed 3=job
// ARGV: 1=jobID 2=nowIso
// Returns 'cancelled', 'requested', 'noop', or 'missing'.
var cancelScript = redis.NewScript(`
local pending = KEYS[1]
local delayed = KEYS[2]
local key = KEYS[3]
local id = ARGV[1]
local nowIso = ARGV[2]

local status = redis.call('HGET', key, 'status')
if not status then
  return 'missing'
end
if status == 'pending' then
  redis.call('ZREM', pending, id)
  redis.call('ZREM', delayed, id)
  redis.call('HSET', key, 'status', 'cancelled', 'completed_at', nowIso)
  redis.call('HDEL', key, 'not_before_ms')
  return 'cancelled'
end
if status == 'running' then
  if redis.call('HGET', key, 'cancel_requested') == '1' then
    return 'noop'
  end
  redis.call('HSET', key, 'cancel_requested', 1)
  return 'requested'
end
return 'noop'
`)

// requeueFields resets a terminal job to a fresh pending state; shared
// by retryScript and requeueDeadScript.
const requeueFields = `
  redis.call('HSET', key, 'status', 'pending', 'attempt', 0, 'progress', 0, 'score', score)
  redis.call('HDEL', key, 'error', 'result', 'started_at', 'completed_at', 'not_before_ms', 'cancel_requested')
  redis.call('ZADD', pending, score, id)
`

// retryScript re-queues a failed or cancelled job with a fresh budget.
// Dead-lettered jobs are refused.
//
// KEYS: 1=pending 2=job
// ARGV: 1=jobID 2=score
var retryScript = redis.NewScript(`
local pending = KEYS[1]
local key = KEYS[2]
local id = ARGV[1]
local score = ARGV[2]

if redis.call('HGET', key, 'dead') == '1' then
  return 0
end
local status = redis.call('HGET', key, 'status')
if status ~= 'failed' and status ~= 'cancelled' then
  return 0
end
` + requeueFields + `
return 1
`)

// requeueDeadScript revives a dead-lettered job as pending.
//
// KEYS: 1=dead 2=pending 3=job
// ARGV: 1=jobID 2=score
var requeueDeadScript = redis.NewScript(`
local dead = KEYS[1]
local pending = KEYS[2]
local key = KEYS[3]
local id = ARGV[1]
local score = ARGV[2]

if redis.call('HGET', key, 'dead') ~= '1' then
  return 0
end
redis.call('LREM', dead, 0, id)
redis.call('HDEL', key, 'dead')
` + requeueFields + `
return 1
`)

// updatePriorityScript re-scores an unclaimed job. Jobs in the ready
// queue are moved to their new rank immediately; delayed jobs pick up
// the new score when they are promoted.
//
// KEYS: 1=pending 2=delayed 3=job
// ARGV: 1=jobID 2=priority 3=score
var updatePriorityScript = redis.NewScript(`
local pending = KEYS[1]
local delayed = KEYS[2]
local key = KEYS[3]
local id = ARGV[1]
local priority = ARGV[2]
local score = ARGV[3]

if redis.call('ZSCORE', pending, id) then
  redis.call('HSET', key, 'priority', priority, 'score', score)
  redis.call('ZADD', pending, score, id)
  return 1
end
if redis.call('ZSCORE', delayed, id) then
  redis.call('HSET', key, 'priority', priority, 'score', score)
  return 1
end
return 0
`)

// updatePayloadScript replaces the payload of an unclaimed job.
//
// KEYS: 1=pending 2=delayed 3=job
// ARGV: 1=jobID 2=payload
var updatePayloadScript = redis.NewScript(`
local pending = KEYS[1]
local delayed = KEYS[2]
local key = KEYS[3]
local id = ARGV[1]
local payload = ARGV[2]

if redis.call('ZSCORE', pending, id) or redis.call('ZSCORE', delayed, id) then
  redis.call('HSET', key, 'payload', payload)
  return 1
end
return 0
`)
