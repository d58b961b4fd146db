package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChangeStatusTerminal(t *testing.T) {
	assert.False(t, ChangePending.Terminal())
	assert.True(t, ChangeApplied.Terminal())
	assert.True(t, ChangeRejected.Terminal())
	assert.True(t, ChangeExpired.Terminal())
	assert.False(t, ChangeStatus("BOGUS").Terminal())
}

func TestValidServiceVerb(t *testing.T) {
	for _, verb := range []ServiceVerb{ServiceUp, ServiceDown, ServiceRestart, ServicePull} {
		assert.True(t, ValidServiceVerb(verb))
	}
	assert.False(t, ValidServiceVerb("exec"))
	assert.False(t, ValidServiceVerb(""))
	assert.False(t, ValidServiceVerb("UP"))
}

func TestPendingChangeTarget(t *testing.T) {
	assert.Equal(t, "/opt/iot-stack/app.env", PendingChange{
		Kind: KindFileEdit,
		Path: "/opt/iot-stack/app.env",
	}.Target())
	assert.Equal(t, "crontab:svc_iot", PendingChange{
		Kind:  KindCrontabEdit,
		Owner: "svc_iot",
	}.Target())
	assert.Equal(t, "/opt/iot-stack/nginx", PendingChange{
		Kind:       KindServiceAction,
		ProjectDir: "/opt/iot-stack",
		Service:    "nginx",
	}.Target())
	assert.Empty(t, PendingChange{}.Target())
}

func TestErrorMessages(t *testing.T) {
	assert.EqualError(t, NewValidationError("bad %s", "path"), "bad path")
	assert.EqualError(t, &NotFoundError{Kind: "change", Name: "chg_x"}, "change chg_x not found")
	assert.EqualError(t, &AlreadyFinalizedError{ID: "chg_x", Status: ChangeApplied},
		"change chg_x already finalized (status APPLIED)")

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	assert.EqualError(t, &ExpiredError{ID: "chg_x", CreatedAt: created},
		"change chg_x expired (created 2026-08-01T12:00:00Z)")
}
