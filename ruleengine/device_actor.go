package ruleengine

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/c360/rulecore/actor"
	"github.com/c360/rulecore/message"
	"github.com/c360/rulecore/scheduler"
)

// DeviceActor tracks the transport sessions of one device and turns session
// changes and telemetry into rule engine messages.
type DeviceActor struct {
	actor.BaseActor

	sys      *SystemContext
	tenantID uuid.UUID
	deviceID uuid.UUID

	// last activity per session
	sessions map[uuid.UUID]time.Time
	active   bool
	check    *scheduler.Handle
}

func deviceCreator(sys *SystemContext, tenantID, deviceID uuid.UUID) func() actor.Creator {
	return func() actor.Creator {
		return actor.CreatorFunc{
			ID: actor.EntityActorID(message.NewEntityID(message.EntityDevice, deviceID)),
			New: func() actor.Actor {
				return &DeviceActor{
					sys:      sys,
					tenantID: tenantID,
					deviceID: deviceID,
					sessions: make(map[uuid.UUID]time.Time),
				}
			},
		}
	}
}

func (a *DeviceActor) Init(ctx actor.Ctx) error {
	a.Ctx = ctx
	interval := a.sys.Settings.SessionCheckInterval
	a.check = a.sys.SchedulePeriodicMsgWithDelay(ctx, SessionTimeoutCheckMsg{}, interval, interval)
	return nil
}

func (a *DeviceActor) Process(m actor.Msg) bool {
	switch msg := m.(type) {
	case DeviceSessionMsg:
		a.onSession(msg)
	case DeviceTelemetryMsg:
		a.onTelemetry(msg)
	case SessionTimeoutCheckMsg:
		a.checkSessions()
	default:
		return false
	}
	return true
}

func (a *DeviceActor) onSession(m DeviceSessionMsg) {
	switch m.Event {
	case SessionOpen:
		if len(a.sessions) == 0 {
			a.push(message.ConnectEvent, nil, a.eventData(), message.EmptyCallback)
		}
		a.touch(m.SessionID)
	case SessionClose:
		if _, ok := a.sessions[m.SessionID]; !ok {
			return
		}
		delete(a.sessions, m.SessionID)
		if len(a.sessions) == 0 {
			a.push(message.DisconnectEvent, nil, a.eventData(), message.EmptyCallback)
		}
	case SessionActivity:
		a.touch(m.SessionID)
	}
}

func (a *DeviceActor) onTelemetry(m DeviceTelemetryMsg) {
	a.touch(m.SessionID)
	cb := m.Callback
	if cb == nil {
		cb = message.EmptyCallback
	}
	a.push(message.PostTelemetryRequest, m.Metadata, m.Data, cb)
}

// touch records activity on a session and reports the device active again
// after it went inactive
func (a *DeviceActor) touch(sessionID uuid.UUID) {
	a.sessions[sessionID] = a.sys.clock()
	if !a.active {
		a.active = true
		a.push(message.ActivityEvent, nil, a.eventData(), message.EmptyCallback)
	}
}

func (a *DeviceActor) checkSessions() {
	deadline := a.sys.clock().Add(-a.sys.Settings.SessionInactivityTimeout)
	for id, last := range a.sessions {
		if last.Before(deadline) {
			delete(a.sessions, id)
		}
	}
	if len(a.sessions) == 0 && a.active {
		a.active = false
		a.push(message.InactivityEvent, nil, a.eventData(), message.EmptyCallback)
	}
}

func (a *DeviceActor) eventData() string {
	data, _ := json.Marshal(map[string]any{
		"active":   a.active,
		"sessions": len(a.sessions),
	})
	return string(data)
}

func (a *DeviceActor) push(msgType message.InternalType, metadata map[string]string, data string, cb message.Callback) {
	msg, err := message.NewBuilder().
		Type(msgType).
		Originator(message.NewEntityID(message.EntityDevice, a.deviceID)).
		Metadata(message.NewMetadata(metadata)).
		Data(data).
		Callback(cb).
		Build()
	if err != nil {
		cb.OnFailure(err)
		return
	}
	a.sys.EnqueueToRuleEngine(a.tenantID, msg, func(err error) {
		if err != nil {
			a.sys.Logger.Warn("Failed to push device message",
				"device_id", a.deviceID.String(), "type", msgType.String(), "error", err)
		}
	})
}

func (a *DeviceActor) Destroy(actor.StopReason, error) {
	if a.check != nil {
		a.check.Cancel()
	}
}
