package application

import (
	"context"

	monitoring "cosafe/internal/monitoring/domain"
)

// HydrateLimit is the number of remote readings loaded into local history.
const HydrateLimit = 1000

// HistoryTarget receives hydrated readings.
type HistoryTarget interface {
	Hydrate(ctx context.Context, readings []monitoring.Reading) int
}

// HydrateHistory loads the latest remote readings of a device into target.
func (m *Manager) HydrateHistory(ctx context.Context, deviceID string, target HistoryTarget) (int, error) {
	readings, err := m.authority.LatestReadings(ctx, deviceID, HydrateLimit)
	if err != nil {
		return 0, m.remoteError("latest readings", err)
	}
	local := make([]monitoring.Reading, 0, len(readings))
	for _, r := range readings {
		local = append(local, monitoring.Reading{
			Timestamp: r.CreatedAt,
			Value:     r.COLevel,
			AuxFlag:   r.MosfetStatus,
		})
	}
	return target.Hydrate(ctx, local), nil
}
