package v1alpha1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestDomain_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    DomainSpec
		wantErr string
	}{
		{
			name: "valid",
			spec: DomainSpec{Image: "img", Clusters: []ClusterSpec{{Name: "a", Replicas: 2}, {Name: "b"}}},
		},
		{
			name:    "missing image",
			spec:    DomainSpec{},
			wantErr: "spec.image is required",
		},
		{
			name:    "unnamed cluster",
			spec:    DomainSpec{Image: "img", Clusters: []ClusterSpec{{Replicas: 1}}},
			wantErr: "spec.clusters[0].name is required",
		},
		{
			name:    "duplicate cluster",
			spec:    DomainSpec{Image: "img", Clusters: []ClusterSpec{{Name: "a"}, {Name: "a"}}},
			wantErr: `spec.clusters[1].name "a" is not unique`,
		},
		{
			name:    "negative replicas",
			spec:    DomainSpec{Image: "img", Clusters: []ClusterSpec{{Name: "a", Replicas: -1}}},
			wantErr: "spec.clusters[0].replicas must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Domain{Spec: tt.spec}
			err := d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestDomain_UIDAndKey(t *testing.T) {
	d := &Domain{ObjectMeta: metav1.ObjectMeta{Name: "sales", Namespace: "apps"}}
	assert.Equal(t, "sales", d.UID())
	assert.Equal(t, "apps/sales", d.Key())

	d.Spec.DomainUID = "sales-eu"
	assert.Equal(t, "sales-eu", d.UID())
}

func TestDomain_DeepCopy(t *testing.T) {
	d := &Domain{
		ObjectMeta: metav1.ObjectMeta{Name: "sales", Labels: map[string]string{"team": "a"}},
		Spec: DomainSpec{
			Config:   map[string]string{"k": "v"},
			Clusters: []ClusterSpec{{Name: "a", Config: map[string]string{"x": "1"}}},
		},
		Status: DomainStatus{Conditions: []metav1.Condition{{Type: ConditionReady}}},
	}

	c := d.DeepCopy()
	c.Labels["team"] = "b"
	c.Spec.Config["k"] = "changed"
	c.Spec.Clusters[0].Config["x"] = "2"
	c.Status.Conditions[0].Type = "Other"

	assert.Equal(t, "a", d.Labels["team"])
	assert.Equal(t, "v", d.Spec.Config["k"])
	assert.Equal(t, "1", d.Spec.Clusters[0].Config["x"])
	assert.Equal(t, ConditionReady, d.Status.Conditions[0].Type)
}
