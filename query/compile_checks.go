package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/trianglegrrl/dhyana/core"
)

var (
	_ gocmd.Querier[ListEntitiesMessage, []core.EntityRecord] = (*ListEntitiesQuery)(nil)
	_ gocmd.Querier[GetEntityMessage, core.EntityRecord]      = (*GetEntityQuery)(nil)
	_ gocmd.Querier[ListDeadLetteredMessage, []core.SyncTask] = (*ListDeadLetteredQuery)(nil)
)
