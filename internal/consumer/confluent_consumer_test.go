package consumer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkglog "github.com/iolipix/JuriNapse-sub001/pkg/log"
)

type recordingHandler struct {
	events []*UserEvent
}

func (h *recordingHandler) HandleUserEvent(_ context.Context, event *UserEvent) error {
	h.events = append(h.events, event)
	return nil
}

func newTestConsumer(h UserEventHandler) *ConfluentConsumer {
	return &ConfluentConsumer{
		handler: h,
		logger:  pkglog.L(),
		doneCh:  make(chan struct{}),
	}
}

func TestProcessMessageDispatches(t *testing.T) {
	h := &recordingHandler{}
	cc := newTestConsumer(h)

	cc.processMessage(context.Background(), []byte(`{"type":"user.registered","user_id":"u1","username":"alice","hidden":true}`))

	require.Len(t, h.events, 1)
	assert.Equal(t, EventUserRegistered, h.events[0].Type)
	assert.Equal(t, "alice", h.events[0].Username)
	assert.True(t, h.events[0].Hidden)
}

func TestProcessMessageSkipsBadInput(t *testing.T) {
	h := &recordingHandler{}
	cc := newTestConsumer(h)

	cc.processMessage(context.Background(), []byte(`not json`))
	cc.processMessage(context.Background(), []byte(`{"type":"user.deleted"}`))

	assert.Empty(t, h.events)
}
