package reconciler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	"domainop/pkg/apis/domain/v1alpha1"
	"domainop/pkg/logging"
)

// domainsDir is the directory below the base path holding Domain manifests.
const domainsDir = "domains"

var domainResource = schema.GroupResource{Group: v1alpha1.GroupVersion.Group, Resource: "domains"}

// DomainSource loads desired Domains. A missing Domain is reported as a
// Kubernetes NotFound error.
type DomainSource interface {
	Get(ctx context.Context, namespace, name string) (*v1alpha1.Domain, error)
	List(ctx context.Context) ([]*v1alpha1.Domain, error)
}

// ClientSource reads Domains from the API server, normally through the
// manager's cache.
type ClientSource struct {
	reader    client.Reader
	namespace string
}

// NewClientSource creates a source listing Domains in namespace, or in all
// namespaces if namespace is empty.
func NewClientSource(reader client.Reader, namespace string) *ClientSource {
	return &ClientSource{reader: reader, namespace: namespace}
}

// Get implements DomainSource.
func (s *ClientSource) Get(ctx context.Context, namespace, name string) (*v1alpha1.Domain, error) {
	domain := &v1alpha1.Domain{}
	if err := s.reader.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, domain); err != nil {
		return nil, err
	}
	return domain, nil
}

// List implements DomainSource.
func (s *ClientSource) List(ctx context.Context) ([]*v1alpha1.Domain, error) {
	list := &v1alpha1.DomainList{}
	var opts []client.ListOption
	if s.namespace != "" {
		opts = append(opts, client.InNamespace(s.namespace))
	}
	if err := s.reader.List(ctx, list, opts...); err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	domains := make([]*v1alpha1.Domain, 0, len(list.Items))
	for i := range list.Items {
		domains = append(domains, &list.Items[i])
	}
	return domains, nil
}

// FileSource reads Domain manifests from {basePath}/domains/{name}.yaml.
//
// The file name is the Domain name and every Domain is placed in the
// configured namespace, so create and delete events of a file always map
// to the same key.
type FileSource struct {
	basePath  string
	namespace string
}

// NewFileSource creates a source for manifests below basePath.
func NewFileSource(basePath, namespace string) *FileSource {
	if namespace == "" {
		namespace = "default"
	}
	return &FileSource{basePath: basePath, namespace: namespace}
}

// Namespace returns the namespace file based Domains are placed in.
func (s *FileSource) Namespace() string {
	return s.namespace
}

// Get implements DomainSource. namespace is ignored.
func (s *FileSource) Get(_ context.Context, _, name string) (*v1alpha1.Domain, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(s.basePath, domainsDir, name+ext)
		domain, err := s.load(path, name)
		if err == nil || !errors.IsNotFound(err) {
			return domain, err
		}
	}
	return nil, errors.NewNotFound(domainResource, name)
}

func (s *FileSource) load(path, name string) (*v1alpha1.Domain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(domainResource, name)
		}
		return nil, fmt.Errorf("failed to read domain file %s: %w", path, err)
	}

	var domain v1alpha1.Domain
	if err := yaml.Unmarshal(data, &domain); err != nil {
		return nil, fmt.Errorf("failed to unmarshal domain from %s: %w", path, err)
	}

	if domain.Name != "" && domain.Name != name {
		logging.Warn("FileSource", "Domain in %s is named %q, using file name %q", path, domain.Name, name)
	}
	if domain.Namespace != "" && domain.Namespace != s.namespace {
		logging.Warn("FileSource", "Domain in %s sets namespace %q, using %q", path, domain.Namespace, s.namespace)
	}
	domain.Name = name
	domain.Namespace = s.namespace
	domain.SetGroupVersionKind(v1alpha1.GroupVersion.WithKind("Domain"))

	return &domain, nil
}

// List implements DomainSource. Files that fail to load are logged and skipped.
func (s *FileSource) List(ctx context.Context) ([]*v1alpha1.Domain, error) {
	checks, err := s.Check()
	if err != nil {
		return nil, err
	}

	var domains []*v1alpha1.Domain
	for _, check := range checks {
		if check.Err != nil {
			logging.Error("FileSource", check.Err, "Failed to load domain %s", filepath.Base(check.FilePath))
			continue
		}
		domains = append(domains, check.Domain)
	}
	return domains, nil
}

// ManifestCheck is the result of loading one manifest file.
type ManifestCheck struct {
	FilePath string
	Domain   *v1alpha1.Domain
	// Err is set when the file could not be read or decoded.
	Err error
}

// Check loads every manifest in the domains directory, ordered by file name.
// A missing directory yields no results.
func (s *FileSource) Check() ([]ManifestCheck, error) {
	dirPath := filepath.Join(s.basePath, domainsDir)

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dirPath, err)
	}

	var checks []ManifestCheck
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dirPath, entry.Name())
		domain, err := s.load(path, nameFromFileName(entry.Name()))
		checks = append(checks, ManifestCheck{FilePath: path, Domain: domain, Err: err})
	}

	sort.Slice(checks, func(i, j int) bool { return checks[i].FilePath < checks[j].FilePath })
	return checks, nil
}

// nameFromFileName strips the YAML extension from a file name.
func nameFromFileName(fileName string) string {
	name := strings.TrimSuffix(fileName, ".yaml")
	return strings.TrimSuffix(name, ".yml")
}
