package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/tick-hub/cmd/gateway/internal/state"
)

// WSHandler upgrades the request and joins the connection to the hub.
// No handshake payload is expected from the subscriber.
func WSHandler(h *hub.Hub, logger *zap.Logger, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			logger.Debug("Upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(conn, h, logger, opts)
		if err := client.Start(); err != nil {
			logger.Warn("Subscriber rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		}
	}
}

type UpstreamStatus interface {
	Connected() bool
	Connects() int64
}

// MirrorStatus is a lossy side channel whose drops are worth reporting.
type MirrorStatus interface {
	Name() string
	Dropped() uint64
}

type Health struct {
	Status            string              `json:"status"`
	UpstreamConnected bool                `json:"upstream_connected"`
	UpstreamConnects  int64               `json:"upstream_connects"`
	Subscribers       int                 `json:"subscribers"`
	Dropped           uint64              `json:"dropped"`
	Evicted           uint64              `json:"evicted"`
	MirrorDropped     map[string]uint64   `json:"mirror_dropped,omitempty"`
	Symbols           []state.SymbolState `json:"symbols"`
}

// HealthHandler reports "ok" while the upstream session is open and "degraded" otherwise.
// It always answers 200; a reconnecting feed is not a reason to restart the process.
func HealthHandler(h *hub.Hub, store *state.Store, up UpstreamStatus, mirrors ...MirrorStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := h.Stats()
		resp := Health{
			Status:            "ok",
			UpstreamConnected: up.Connected(),
			UpstreamConnects:  up.Connects(),
			Subscribers:       stats.Subscribers,
			Dropped:           stats.Dropped,
			Evicted:           stats.Evicted,
			Symbols:           store.Snapshot(),
		}
		if len(mirrors) > 0 {
			resp.MirrorDropped = make(map[string]uint64, len(mirrors))
			for _, m := range mirrors {
				resp.MirrorDropped[m.Name()] = m.Dropped()
			}
		}
		if !resp.UpstreamConnected {
			resp.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
