package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	redisx "RelayCore/service/storage/redis"
)

// ===== 配置 =====

type PresenceConfig struct {
	TTL   time.Duration    // safety-net TTL on the per-user set; refreshed by heartbeats
	Clock func() time.Time // injectable clock (nil => time.Now)
}

func (c *PresenceConfig) norm() {
	if c.TTL <= 0 {
		c.TTL = 120 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// PresenceStore keeps the fleet-wide live-connection registry in redis:
// one SET per user whose members are <gateway>/<conn>. A user is online iff
// the set is non-empty. Add/remove go through Lua so "first connection" and
// "last connection gone" are decided atomically on the store, never by
// read-then-write from the gateway.
type PresenceStore struct {
	conf PresenceConfig

	luaConnect    *redis.Script
	luaDisconnect *redis.Script
}

// ===== Lua 脚本 =====

// connect: add member, refresh TTL, report whether this was the first one.
// KEYS[1] = presence set
// ARGV[1] = member, ARGV[2] = ttlSeconds
// 返回: {added(0/1), cardAfter}
const luaPresenceConnect = `
local added = redis.call("SADD", KEYS[1], ARGV[1])
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
local card = redis.call("SCARD", KEYS[1])
return {added, card}
`

// disconnect: remove member; when the set empties, drop it and stamp last-seen.
// KEYS[1] = presence set, KEYS[2] = last-seen key
// ARGV[1] = member, ARGV[2] = nowUnixMilli
// 返回: {removed(0/1), cardAfter}
const luaPresenceDisconnect = `
local removed = redis.call("SREM", KEYS[1], ARGV[1])
local card = redis.call("SCARD", KEYS[1])
if card == 0 then
  redis.call("DEL", KEYS[1])
  redis.call("SET", KEYS[2], ARGV[2])
end
return {removed, card}
`

func NewPresenceStore(conf PresenceConfig) *PresenceStore {
	conf.norm()
	return &PresenceStore{
		conf:          conf,
		luaConnect:    redis.NewScript(luaPresenceConnect),
		luaDisconnect: redis.NewScript(luaPresenceDisconnect),
	}
}

// ===== Key / member 构造 =====

func presenceKey(userID string) string { return "presence:u:" + userID }
func lastSeenKey(userID string) string { return "presence:seen:" + userID }

// Member encodes one live connection as stored in the per-user set.
func Member(gatewayID, connID string) string { return gatewayID + "/" + connID }

// SplitMember is the inverse of Member.
func SplitMember(member string) (gatewayID, connID string, ok bool) {
	i := strings.IndexByte(member, '/')
	if i <= 0 || i == len(member)-1 {
		return "", "", false
	}
	return member[:i], member[i+1:], true
}

// ===== API =====

// Connect registers one live connection. first is true when the user had no
// other live connection anywhere in the fleet.
func (p *PresenceStore) Connect(ctx context.Context, userID, gatewayID, connID string) (first bool, err error) {
	vals, err := p.luaConnect.Run(ctx, redisx.Get(),
		[]string{presenceKey(userID)},
		Member(gatewayID, connID),
		int64(p.conf.TTL/time.Second),
	).Int64Slice()
	if err != nil {
		return false, errors.WithMessage(err, "presence connect")
	}
	if len(vals) != 2 {
		return false, fmt.Errorf("presence connect: unexpected reply %v", vals)
	}
	added, card := vals[0], vals[1]
	return added == 1 && card == 1, nil
}

// Disconnect removes one live connection. last is true when this was the
// user's final connection; repeated calls for the same member are no-ops.
func (p *PresenceStore) Disconnect(ctx context.Context, userID, gatewayID, connID string) (last bool, lastSeen time.Time, err error) {
	now := p.conf.Clock()
	vals, err := p.luaDisconnect.Run(ctx, redisx.Get(),
		[]string{presenceKey(userID), lastSeenKey(userID)},
		Member(gatewayID, connID),
		now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return false, time.Time{}, errors.WithMessage(err, "presence disconnect")
	}
	if len(vals) != 2 {
		return false, time.Time{}, fmt.Errorf("presence disconnect: unexpected reply %v", vals)
	}
	removed, card := vals[0], vals[1]
	return removed == 1 && card == 0, now, nil
}

// Heartbeat re-asserts the connection's membership and renews the TTL safety
// net. Re-running the connect script makes a heartbeat heal an entry lost to
// a failed connect or an expired key, not just extend one that survived.
func (p *PresenceStore) Heartbeat(ctx context.Context, userID, gatewayID, connID string) error {
	err := p.luaConnect.Run(ctx, redisx.Get(),
		[]string{presenceKey(userID)},
		Member(gatewayID, connID),
		int64(p.conf.TTL/time.Second),
	).Err()
	return errors.WithMessage(err, "presence heartbeat")
}

// IsOnline reports whether the user has at least one live connection.
func (p *PresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := redisx.Get().SCard(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, errors.WithMessage(err, "presence scard")
	}
	return n > 0, nil
}

// Connections lists the user's live members across the fleet.
func (p *PresenceStore) Connections(ctx context.Context, userID string) ([]string, error) {
	return redisx.Get().SMembers(ctx, presenceKey(userID)).Result()
}

// LastSeen returns the recorded last-seen time; zero when never recorded.
func (p *PresenceStore) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	ms, err := redisx.Get().Get(ctx, lastSeenKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
