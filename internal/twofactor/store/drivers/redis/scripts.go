package redis

import "github.com/redis/go-redis/v9"

// Every script touches the keys of a single user only. The keys share a
// {userID} hash tag so the scripts also run on a cluster.

// activateScript promotes a pending setup if its secret still matches.
// KEYS: pending, record, codes. ARGV: secret, enabled, enabled_at, last_counter, hashes...
var activateScript = redis.NewScript(`
local secret = redis.call('HGET', KEYS[1], 'secret')
if not secret or secret ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1], KEYS[2], KEYS[3])
redis.call('HSET', KEYS[2], 'secret', ARGV[1], 'enabled', ARGV[2], 'enabled_at', ARGV[3], 'last_counter', ARGV[4])
if #ARGV > 4 then
  redis.call('RPUSH', KEYS[3], unpack(ARGV, 5))
end
return 1
`)

// removeCodeScript deletes the list element at index if it equals the hash.
// LSET to a tombstone then LREM is the usual way to delete by position.
// KEYS: record, codes. ARGV: index, hash.
var removeCodeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local current = redis.call('LINDEX', KEYS[2], ARGV[1])
if not current or current ~= ARGV[2] then
  return 0
end
redis.call('LSET', KEYS[2], ARGV[1], '__consumed__')
redis.call('LREM', KEYS[2], 1, '__consumed__')
return 1
`)

// replaceCodesScript swaps the hash list of an existing record.
// KEYS: record, codes. ARGV: hashes...
var replaceCodesScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('DEL', KEYS[2])
if #ARGV > 0 then
  redis.call('RPUSH', KEYS[2], unpack(ARGV))
end
return 1
`)

// markCounterScript advances last_counter only forwards.
// KEYS: record. ARGV: counter. Returns -1 missing, 0 stale, 1 ok.
var markCounterScript = redis.NewScript(`
local last = redis.call('HGET', KEYS[1], 'last_counter')
if not last then
  return -1
end
if tonumber(ARGV[1]) <= tonumber(last) then
  return 0
end
redis.call('HSET', KEYS[1], 'last_counter', ARGV[1])
return 1
`)

// purgePendingScript deletes a pending setup created before the cutoff.
// Checked server side so a setup written after the scan survives.
// Times are unix milliseconds, which Lua numbers hold exactly.
// KEYS: pending. ARGV: cutoff (unix ms).
var purgePendingScript = redis.NewScript(`
local created = redis.call('HGET', KEYS[1], 'created_at')
if not created or tonumber(created) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)
