package jobber

import (
	"context"

	"github.com/trianglegrrl/dhyana/core"
)

type entityFetcher interface {
	GetClient(ctx context.Context, id string) (ClientDetail, error)
	GetJob(ctx context.Context, id string) (JobDetail, error)
	GetInvoice(ctx context.Context, id string) (InvoiceDetail, error)
}

// Enricher resolves thin-pointer tasks against the GraphQL API at
// processing time. Webhook deliveries carry only (topic, item id);
// the full record is fetched here, on the queue side of the ack
// boundary, where a fetch failure feeds the normal retry path.
type Enricher struct {
	client entityFetcher
}

func NewEnricher(client *Client) *Enricher {
	return &Enricher{client: client}
}

func (e *Enricher) Enrich(ctx context.Context, task core.SyncTask) (core.SyncTask, error) {
	if e == nil || e.client == nil {
		return task, nil
	}
	if task.Op != core.TaskOpUpsert || len(task.Fields) > 0 {
		return task, nil
	}

	switch task.Kind {
	case core.EntityKindClient:
		detail, err := e.client.GetClient(ctx, task.ExternalID)
		if err != nil {
			return task, err
		}
		task.Fields = detail.Fields()
	case core.EntityKindJob:
		detail, err := e.client.GetJob(ctx, task.ExternalID)
		if err != nil {
			return task, err
		}
		task.Fields = detail.Fields()
		if clientID := detail.ClientID(); clientID != "" {
			task.ParentRefs = appendParentRef(task.ParentRefs, core.ParentRef{
				Kind: core.EntityKindClient, ExternalID: clientID, Field: "client_id",
			})
		}
	case core.EntityKindInvoice:
		detail, err := e.client.GetInvoice(ctx, task.ExternalID)
		if err != nil {
			return task, err
		}
		task.Fields = detail.Fields()
		if clientID := detail.ClientID(); clientID != "" {
			task.ParentRefs = appendParentRef(task.ParentRefs, core.ParentRef{
				Kind: core.EntityKindClient, ExternalID: clientID, Field: "client_id",
			})
		}
		if jobID := detail.JobID(); jobID != "" {
			task.ParentRefs = appendParentRef(task.ParentRefs, core.ParentRef{
				Kind: core.EntityKindJob, ExternalID: jobID, Field: "job_id",
			})
		}
	}
	return task, nil
}

func appendParentRef(refs []core.ParentRef, ref core.ParentRef) []core.ParentRef {
	for _, existing := range refs {
		if existing.Kind == ref.Kind && existing.ExternalID == ref.ExternalID {
			return refs
		}
	}
	return append(refs, ref)
}
