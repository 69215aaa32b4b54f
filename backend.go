package spark8s

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// Param is a single resource-creation parameter. Multi-valued parameters
// render as one repeated flag or field per value, preserving input order.
type Param struct {
	Key    string
	Values []string
}

// Params is an ordered list of creation parameters.
type Params []Param

// Values returns the values stored under key, nil if absent.
func (p Params) Values(key string) []string {
	for _, param := range p {
		if param.Key == key {
			return param.Values
		}
	}
	return nil
}

// First returns the first value stored under key, empty if absent.
func (p Params) First(key string) string {
	values := p.Values(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Map returns the parameters as a key to value-list map.
func (p Params) Map() map[string][]string {
	out := make(map[string][]string, len(p))
	for _, param := range p {
		out[param.Key] = param.Values
	}
	return out
}

// Backend is the capability contract over a Kubernetes cluster shared by the
// kubectl and client backends. Implementations resolve their context, cluster
// endpoint, namespace and user at construction and never mutate them; binding
// to another context yields a new instance.
type Backend interface {
	// ContextName returns the kubeconfig context the backend is bound to.
	ContextName() string

	// Namespace returns the default namespace of the bound context.
	Namespace() string

	// User returns the user of the bound context.
	User() string

	// APIServer returns the cluster endpoint of the bound context.
	APIServer() string

	// WithContext returns a new backend bound to the named context.
	WithContext(contextName string) (Backend, error)

	// SelectByEndpoint returns a backend bound to a context whose cluster
	// endpoint equals the given endpoint. The receiver is returned unchanged
	// when its own context already matches.
	SelectByEndpoint(endpoint string) (Backend, error)

	// Get returns the named resource.
	Get(ctx context.Context, kind ResourceKind, name, namespace string) (*unstructured.Unstructured, error)

	// List returns the resources of the given kind matching all the given
	// "key=value" labels. An empty namespace means all namespaces.
	List(ctx context.Context, kind ResourceKind, namespace string, labels []string) ([]unstructured.Unstructured, error)

	// GetSecretData returns the data of the named secret with the values
	// decoded from their wire encoding to plain text.
	GetSecretData(ctx context.Context, name, namespace string) (map[string]string, error)

	// Create creates the named resource with the given extra parameters.
	Create(ctx context.Context, kind ResourceKind, name, namespace string, params Params) error

	// Delete deletes the named resource. Deleting an absent resource is not
	// an error.
	Delete(ctx context.Context, kind ResourceKind, name, namespace string) error

	// Exists reports whether the named resource exists.
	Exists(ctx context.Context, kind ResourceKind, name, namespace string) (bool, error)

	// SetLabel applies a "key=value" label to the named resource.
	SetLabel(ctx context.Context, kind ResourceKind, name, label, namespace string) error

	// RemoveLabel removes the label with the given key from the named resource.
	RemoveLabel(ctx context.Context, kind ResourceKind, name, label, namespace string) error
}

// clusterContext is the resolved view of one kubeconfig context.
type clusterContext struct {
	name      string
	cluster   string
	namespace string
	user      string
	apiServer string
}

// resolveContext resolves the named context from a kubeconfig structure. An
// empty name resolves the current context.
func resolveContext(config *clientcmdapi.Config, contextName string) (*clusterContext, error) {
	if contextName == "" {
		contextName = config.CurrentContext
	}
	kubeContext, ok := config.Contexts[contextName]
	if !ok {
		return nil, errors.Errorf("context %q not found in kubeconfig", contextName)
	}
	cluster, ok := config.Clusters[kubeContext.Cluster]
	if !ok {
		return nil, errors.Errorf("cluster %q of context %q not found in kubeconfig", kubeContext.Cluster, contextName)
	}
	resolved := &clusterContext{
		name:      contextName,
		cluster:   kubeContext.Cluster,
		namespace: kubeContext.Namespace,
		user:      kubeContext.AuthInfo,
		apiServer: cluster.Server,
	}
	if resolved.namespace == "" {
		resolved.namespace = defaultNamespace
	}
	if resolved.user == "" {
		resolved.user = defaultUser
	}
	return resolved, nil
}

// contextsForEndpoint returns the names of all contexts whose cluster
// endpoint equals the given endpoint, sorted for a stable pick.
func contextsForEndpoint(config *clientcmdapi.Config, endpoint string) []string {
	var names []string
	for name, kubeContext := range config.Contexts {
		cluster, ok := config.Clusters[kubeContext.Cluster]
		if ok && cluster.Server == endpoint {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// endpointContext picks the context to bind for the given endpoint: the
// current context when it already matches, otherwise the first candidate.
func endpointContext(config *clientcmdapi.Config, endpoint, current string) (string, error) {
	names := contextsForEndpoint(config, endpoint)
	if len(names) == 0 {
		return "", &AccountNotFoundError{ID: endpoint}
	}
	for _, name := range names {
		if name == current {
			return current, nil
		}
	}
	return names[0], nil
}
