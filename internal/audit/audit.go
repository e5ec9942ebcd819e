package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/iolipix/JuriNapse-sub001/pkg/log"
)

// Audit actions for the social graph.
const (
	ActionFollow      = "graph.follow"
	ActionUnfollow    = "graph.unfollow"
	ActionBlock       = "graph.block"
	ActionUnblock     = "graph.unblock"
	ActionRepair      = "graph.repair"
	ActionRecount     = "graph.recount"
	ActionUserDeleted = "graph.user_deleted"
)

const FieldAction = "action"

func entry(ctx context.Context, action, actorID string) *zerolog.Event {
	l := log.Ctx(ctx)
	return l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, actorID)
}

// LogTarget emits an audit entry for an action aimed at another user.
func LogTarget(ctx context.Context, action, actorID, targetID, msg string) {
	entry(ctx, action, actorID).Str(log.FieldTargetID, targetID).Msg(msg)
}

// LogFields emits an audit entry with extra structured fields.
func LogFields(ctx context.Context, action, actorID string, fields map[string]interface{}, msg string) {
	entry(ctx, action, actorID).Fields(fields).Msg(msg)
}
