package events

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/talentsol/screening/internal/model"
)

// Publisher emits prediction lifecycle events. Implementations must be
// non-blocking and may drop events; persisted state is always the source
// of truth and subscribers reconcile from it.
type Publisher interface {
	PublishPrediction(p *model.Prediction)
}

// HubPublisher broadcasts events through the websocket hub.
type HubPublisher struct {
	hub *Hub
}

// NewHubPublisher wraps a hub as a Publisher.
func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) PublishPrediction(pred *model.Prediction) {
	evt := model.EventFromPrediction(pred)
	payload, err := json.Marshal(evt)
	if err != nil {
		zap.L().Warn("encode prediction event", zap.String("prediction_id", pred.ID), zap.Error(err))
		p.hub.countDrop()
		return
	}
	if !p.hub.Broadcast(payload) {
		zap.L().Warn("event queue full, dropping prediction event",
			zap.String("prediction_id", pred.ID))
	}
}

// NopPublisher discards all events. Used by CLI scoring paths that run
// without a server.
type NopPublisher struct{}

func (NopPublisher) PublishPrediction(*model.Prediction) {}
