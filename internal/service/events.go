// Package service implements the persona governance logic on top of ports.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/personagov/internal/domain/persona"
	"github.com/Strob0t/personagov/internal/port/messagequeue"
)

// publish sends payload on subject. It runs after the store work has
// committed, so failures are logged and never returned.
func publish(ctx context.Context, q messagequeue.Queue, subject string, payload any) {
	if q == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "event marshal failed", "subject", subject, "error", err)
		return
	}
	if err := q.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "event publish failed", "subject", subject, "error", err)
	}
}

func instanceEvent(inst *persona.Instance) messagequeue.InstanceEventPayload {
	return messagequeue.InstanceEventPayload{
		InstanceID: inst.ID,
		Name:       inst.Name,
		TypeID:     inst.TypeID,
		Project:    inst.Project,
		IsActive:   inst.IsActive,
	}
}
