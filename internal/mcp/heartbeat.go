package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

var heartbeatLine = func() []byte {
	b, _ := json.Marshal(notificationEnvelope{
		JSONRPC: Version,
		Method:  HeartbeatMethod,
		Params:  json.RawMessage("null"),
	})
	return append(b, '\n')
}()

// heartbeat writes server/heartbeat every interval until ctx is done or
// shutdown begins. It never waits for a reply.
func (e *Engine) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if idle := e.session.idle(); idle >= e.staleAfter {
				e.logger.Info("no inbound activity", slog.Duration("idle", idle.Truncate(time.Second)))
			}
			if !e.writeHeartbeat() {
				return
			}
		}
	}
}

// writeHeartbeat reports false once shutdown has begun. The flag is checked
// under the write lock so no heartbeat follows the shutdown mark.
func (e *Engine) writeHeartbeat() bool {
	e.writeMu.Lock()
	if e.session.shuttingDown.Load() {
		e.writeMu.Unlock()
		return false
	}
	_, err := e.out.Write(heartbeatLine)
	e.writeMu.Unlock()

	if err != nil {
		e.logger.Error("heartbeat write failed", slog.String("error", err.Error()))
		e.Shutdown()
		return false
	}
	e.metrics.RecordHeartbeat()
	return true
}
