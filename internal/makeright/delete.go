package makeright

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"domainop/internal/calls"
	"domainop/internal/status"
	"domainop/internal/work"
	"domainop/pkg/logging"
)

// ForDelete returns the chain that removes everything generated for a deleted
// Domain. The packet must hold the Domain reference under RefKey.
func ForDelete(c client.Client, opts Options) *work.Step {
	return work.Chain(
		work.Link{Name: "delete-configmaps", Action: deleteConfigMaps(c, opts)},
		work.Link{Name: "record-deletion", Action: func(_ context.Context, p *work.Packet) work.NextAction {
			status.UpdatesKey.Put(p, &status.Record{Deleted: true})
			return work.Continue()
		}},
	)
}

func deleteConfigMaps(c client.Client, opts Options) work.Action {
	return calls.Async("delete-configmaps",
		func(p *work.Packet) (calls.Call[int], error) {
			ref, ok := RefKey.Get(p)
			if !ok {
				return nil, work.Fatal(ErrNoReference)
			}

			return func(ctx context.Context) (int, error) {
				list := &corev1.ConfigMapList{}
				if err := c.List(ctx, list,
					client.InNamespace(ref.Namespace),
					client.MatchingLabels{LabelDomain: ref.Name, LabelManagedBy: managedBy},
				); err != nil {
					return 0, fmt.Errorf("failed to list configmaps of %s: %w", ref, err)
				}

				deleted := 0
				for i := range list.Items {
					if err := ctx.Err(); err != nil {
						return deleted, err
					}
					if err := calls.IgnoreNotFound(c.Delete(ctx, &list.Items[i])); err != nil {
						return deleted, fmt.Errorf("failed to delete configmap %s: %w", list.Items[i].Name, err)
					}
					deleted++
				}
				return deleted, nil
			}, nil
		},
		func(p *work.Packet, deleted int) {
			logging.Info("MakeRight", "Deleted %d configmap(s) of %s", deleted, RefKey.MustGet(p))
		},
		opts.callOptions()...,
	)
}
