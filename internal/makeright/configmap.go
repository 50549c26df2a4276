package makeright

import (
	"context"
	"fmt"
	"maps"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"domainop/pkg/apis/domain/v1alpha1"
)

func domainConfigMapName(d *v1alpha1.Domain) string {
	return fmt.Sprintf("%s-domain", d.UID())
}

func clusterConfigMapName(d *v1alpha1.Domain, cluster string) string {
	return fmt.Sprintf("%s-%s", d.UID(), cluster)
}

func baseLabels(d *v1alpha1.Domain) map[string]string {
	return map[string]string{
		LabelDomain:    d.Name,
		LabelManagedBy: managedBy,
	}
}

// desiredDomainConfigMap renders the domain-wide settings.
func desiredDomainConfigMap(d *v1alpha1.Domain) *corev1.ConfigMap {
	data := maps.Clone(d.Spec.Config)
	if data == nil {
		data = map[string]string{}
	}
	data["domainUID"] = d.UID()
	data["image"] = d.Spec.Image
	data["clusters"] = strconv.Itoa(len(d.Spec.Clusters))

	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      domainConfigMapName(d),
			Namespace: d.Namespace,
			Labels:    baseLabels(d),
		},
		Data: data,
	}
}

// desiredClusterConfigMap renders the settings of one cluster. Cluster settings
// override domain settings.
func desiredClusterConfigMap(d *v1alpha1.Domain, c *v1alpha1.ClusterSpec) *corev1.ConfigMap {
	data := maps.Clone(d.Spec.Config)
	if data == nil {
		data = map[string]string{}
	}
	maps.Copy(data, c.Config)
	data["domainUID"] = d.UID()
	data["cluster"] = c.Name
	data["image"] = d.Spec.Image
	data["replicas"] = strconv.Itoa(int(c.Replicas))

	labels := baseLabels(d)
	labels[LabelCluster] = c.Name

	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      clusterConfigMapName(d, c.Name),
			Namespace: d.Namespace,
			Labels:    labels,
		},
		Data: data,
	}
}

// applyConfigMap creates desired or updates the existing ConfigMap when its
// labels or data differ.
func applyConfigMap(ctx context.Context, c client.Client, desired *corev1.ConfigMap) (*corev1.ConfigMap, error) {
	existing := &corev1.ConfigMap{}
	err := c.Get(ctx, client.ObjectKeyFromObject(desired), existing)
	if apierrors.IsNotFound(err) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.Create(ctx, desired); err != nil {
			return nil, fmt.Errorf("failed to create configmap %s: %w", desired.Name, err)
		}
		return desired, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get configmap %s: %w", desired.Name, err)
	}

	if maps.Equal(existing.Data, desired.Data) && labelsContain(existing.Labels, desired.Labels) {
		return existing, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if existing.Labels == nil {
		existing.Labels = map[string]string{}
	}
	maps.Copy(existing.Labels, desired.Labels)
	existing.Data = desired.Data
	if err := c.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update configmap %s: %w", desired.Name, err)
	}
	return existing, nil
}

func labelsContain(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
