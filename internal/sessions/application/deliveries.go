package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cosafe/internal/remote"
	syncqueueapp "cosafe/internal/syncqueue/application"
	syncqueue "cosafe/internal/syncqueue/domain"
)

// Registrar binds sync queue handlers to task kinds.
type Registrar interface {
	Register(kind string, handler syncqueueapp.Handler)
}

// RegisterDeliveries wires the deferred session work into the sync queue.
func (m *Manager) RegisterDeliveries(registrar Registrar) {
	registrar.Register(syncqueue.KindTelemetryBatch, m.deliverTelemetry)
	registrar.Register(syncqueue.KindSessionClose, m.deliverSessionClose)
	registrar.Register(syncqueue.KindSessionDelete, m.deliverSessionDelete)
	registrar.Register(syncqueue.KindDeviceCommand, m.deliverDeviceCommand)
}

func (m *Manager) deliverTelemetry(ctx context.Context, task syncqueue.Task) error {
	var payload syncqueue.TelemetryBatchPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode telemetry batch: %v", syncqueue.ErrPermanent, err)
	}
	if len(payload.Readings) == 0 {
		return nil
	}
	readings := make([]remote.Reading, 0, len(payload.Readings))
	for i, r := range payload.Readings {
		readings = append(readings, remote.Reading{
			Key:          fmt.Sprintf("%s/%d", task.ID, i),
			SessionID:    payload.SessionID,
			DeviceID:     payload.DeviceID,
			COLevel:      r.COLevel,
			Status:       r.Status,
			MosfetStatus: r.MosfetStatus,
			CreatedAt:    r.Timestamp,
		})
	}
	return classifyDelivery(m.authority.InsertReadings(ctx, readings))
}

func (m *Manager) deliverSessionClose(ctx context.Context, task syncqueue.Task) error {
	var payload syncqueue.SessionClosePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode session close: %v", syncqueue.ErrPermanent, err)
	}
	if _, err := m.authority.CloseSession(ctx, payload.SessionID, payload.EndedAt); err != nil {
		if errors.Is(err, remote.ErrSessionNotFound) {
			m.clearLocalClose(payload.SessionID)
		}
		return classifyDelivery(err)
	}
	m.clearLocalClose(payload.SessionID)
	return nil
}

func (m *Manager) deliverSessionDelete(ctx context.Context, task syncqueue.Task) error {
	var payload syncqueue.SessionDeletePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode session delete: %v", syncqueue.ErrPermanent, err)
	}
	return classifyDelivery(m.authority.DeleteSession(ctx, payload.SessionID))
}

func (m *Manager) deliverDeviceCommand(ctx context.Context, task syncqueue.Task) error {
	var payload syncqueue.DeviceCommandPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode device command: %v", syncqueue.ErrPermanent, err)
	}
	return classifyDelivery(m.authority.SendDeviceCommand(ctx, payload.DeviceID, payload.Command))
}

func classifyDelivery(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, remote.ErrSessionNotFound) {
		return errors.Join(syncqueue.ErrPermanent, err)
	}
	return err
}
