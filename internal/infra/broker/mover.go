package broker

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// moveDueScript atomically pops messages whose fire time has passed and
// pushes them onto the dead-letter target's ready list.
var moveDueScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 100)
for i, m in ipairs(due) do
  redis.call("ZREM", KEYS[1], m)
  redis.call("LPUSH", KEYS[2], m)
end
return #due
`)

// RunMover forwards TTL-expired messages for every declared queue with a
// scheduled set. The forwarding target is resolved once from the queue's
// DLX binding; expiry of a message is the moment it dead-letters, so the
// x-death count is bumped at publish time by Nack, not here.
func (b *Broker) RunMover(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.moveDueOnce(ctx)
		}
	}
}

func (b *Broker) moveDueOnce(ctx context.Context) {
	b.mu.RLock()
	specs := make([]QueueSpec, 0, len(b.queues))
	for _, spec := range b.queues {
		if spec.MessageTTL > 0 || spec.DelayPerMessage {
			specs = append(specs, spec)
		}
	}
	b.mu.RUnlock()

	now := time.Now().UnixMilli()
	for _, spec := range specs {
		target, err := b.route(spec.DLX, spec.DLKey)
		if err != nil {
			log.Printf("broker: mover: queue %s has unroutable DLX %s/%s: %v", spec.Name, spec.DLX, spec.DLKey, err)
			continue
		}
		keys := []string{scheduledKey(spec.Name), readyKey(target.Name)}
		if err := moveDueScript.Run(ctx, b.client, keys, now).Err(); err != nil && ctx.Err() == nil {
			log.Printf("broker: mover: %s: %v", spec.Name, err)
		}
	}
}
