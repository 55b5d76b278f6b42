package ruleengine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulecore/message"
)

func deviceChain(tenant uuid.UUID) RuleChain {
	b := newChain(tenant, "devices", true).
		node("switch", NodeTypeMsgTypeSwitch, "").
		node("events", "record", "")
	for _, rel := range []string{"Connect Event", "Disconnect Event", "Activity Event", "Inactivity Event", "Post telemetry"} {
		b.link("switch", rel, "events")
	}
	return b.build()
}

func (h *harness) nextType() message.InternalType {
	h.t.Helper()
	return h.next().msg.InternalType()
}

func TestDeviceActor_SessionLifecycle(t *testing.T) {
	settings := DefaultSettings()
	settings.SessionCheckInterval = 20 * time.Millisecond
	settings.SessionInactivityTimeout = time.Minute
	h := newHarness(t, withSettings(settings))
	h.start(deviceChain(h.tenant))

	device, session := uuid.New(), uuid.New()
	h.engine.OnDeviceSession(h.tenant, device, session, SessionOpen)
	assert.Equal(t, message.ConnectEvent, h.nextType())
	assert.Equal(t, message.ActivityEvent, h.nextType())

	res := newResult()
	h.engine.OnDeviceTelemetry(h.tenant, device, session, `{"humidity":40}`,
		map[string]string{"deviceType": "sensor"}, res.callback())
	v := h.next()
	assert.Equal(t, message.PostTelemetryRequest, v.msg.InternalType())
	assert.Equal(t, device, v.msg.Originator().ID)
	assert.Equal(t, message.EntityDevice, v.msg.Originator().Type)
	assert.Equal(t, "sensor", v.msg.Metadata().Value("deviceType"))
	assert.Equal(t, `{"humidity":40}`, v.msg.Data())
	require.NoError(t, res.wait(t))

	h.engine.OnDeviceSession(h.tenant, device, session, SessionClose)
	assert.Equal(t, message.DisconnectEvent, h.nextType())
	assert.Equal(t, message.InactivityEvent, h.nextType())
	h.noVisit(60 * time.Millisecond)
}

func TestDeviceActor_SecondSessionDoesNotReconnect(t *testing.T) {
	h := newHarness(t)
	h.start(deviceChain(h.tenant))

	device := uuid.New()
	first, second := uuid.New(), uuid.New()
	h.engine.OnDeviceSession(h.tenant, device, first, SessionOpen)
	assert.Equal(t, message.ConnectEvent, h.nextType())
	assert.Equal(t, message.ActivityEvent, h.nextType())

	h.engine.OnDeviceSession(h.tenant, device, second, SessionOpen)
	h.engine.OnDeviceSession(h.tenant, device, first, SessionClose)
	h.noVisit(50 * time.Millisecond)

	h.engine.OnDeviceSession(h.tenant, device, second, SessionClose)
	assert.Equal(t, message.DisconnectEvent, h.nextType())
}

func TestDeviceActor_IdleSessionsExpire(t *testing.T) {
	settings := DefaultSettings()
	settings.SessionCheckInterval = 10 * time.Millisecond
	settings.SessionInactivityTimeout = 50 * time.Millisecond
	h := newHarness(t, withSettings(settings))
	h.start(deviceChain(h.tenant))

	start := time.Now()
	h.engine.OnDeviceSession(h.tenant, uuid.New(), uuid.New(), SessionOpen)
	assert.Equal(t, message.ConnectEvent, h.nextType())
	assert.Equal(t, message.ActivityEvent, h.nextType())
	assert.Equal(t, message.InactivityEvent, h.nextType())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
