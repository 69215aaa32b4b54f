package spark8s

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

const (
	serviceAccountTemplate = "serviceaccount.yaml.tmpl"
	roleTemplate           = "role.yaml.tmpl"
	roleBindingTemplate    = "rolebinding.yaml.tmpl"
)

// ClientBackend implements Backend against the cluster API with typed
// objects. ServiceAccounts, Roles and RoleBindings are built from manifest
// templates; Secrets are built directly from configuration key/value pairs.
type ClientBackend struct {
	config      *clientcmdapi.Config
	kubeContext *clusterContext
	clientset   kubernetes.Interface
	injected    bool
	logger      hclog.Logger
}

var _ Backend = (*ClientBackend)(nil)

// NewClientBackend builds a structured-client backend from a kubeconfig
// structure. An empty contextName binds the current context.
func NewClientBackend(config *clientcmdapi.Config, contextName string, logger hclog.Logger) (*ClientBackend, error) {
	resolved, err := resolveContext(config, contextName)
	if err != nil {
		return nil, err
	}
	restConfig, err := clientcmd.NewNonInteractiveClientConfig(*config, resolved.name, &clientcmd.ConfigOverrides{}, nil).ClientConfig()
	if err != nil {
		return nil, errors.Wrapf(err, "building client configuration for context %q", resolved.name)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.Wrap(err, "building clientset")
	}
	return newClientBackend(config, resolved, clientset, false, logger), nil
}

// NewClientBackendWithClientset builds a structured-client backend around a
// prebuilt clientset. Tests use it with the fake clientset.
func NewClientBackendWithClientset(config *clientcmdapi.Config, contextName string, clientset kubernetes.Interface, logger hclog.Logger) (*ClientBackend, error) {
	resolved, err := resolveContext(config, contextName)
	if err != nil {
		return nil, err
	}
	return newClientBackend(config, resolved, clientset, true, logger), nil
}

func newClientBackend(config *clientcmdapi.Config, resolved *clusterContext, clientset kubernetes.Interface, injected bool, logger hclog.Logger) *ClientBackend {
	if logger == nil {
		logger = hclog.Default().Named("client")
	}
	return &ClientBackend{
		config:      config,
		kubeContext: resolved,
		clientset:   clientset,
		injected:    injected,
		logger:      logger,
	}
}

// ContextName returns the kubeconfig context the backend is bound to.
func (b *ClientBackend) ContextName() string {
	return b.kubeContext.name
}

// Namespace returns the default namespace of the bound context.
func (b *ClientBackend) Namespace() string {
	return b.kubeContext.namespace
}

// User returns the user of the bound context.
func (b *ClientBackend) User() string {
	return b.kubeContext.user
}

// APIServer returns the cluster endpoint of the bound context.
func (b *ClientBackend) APIServer() string {
	return b.kubeContext.apiServer
}

// WithContext returns a new backend bound to the named context. An injected
// clientset is carried over unchanged.
func (b *ClientBackend) WithContext(contextName string) (Backend, error) {
	if b.injected {
		return NewClientBackendWithClientset(b.config, contextName, b.clientset, b.logger)
	}
	return NewClientBackend(b.config, contextName, b.logger)
}

// SelectByEndpoint returns a backend bound to a context on the given cluster
// endpoint.
func (b *ClientBackend) SelectByEndpoint(endpoint string) (Backend, error) {
	contextName, err := endpointContext(b.config, endpoint, b.kubeContext.name)
	if err != nil {
		return nil, err
	}
	if contextName == b.kubeContext.name {
		return b, nil
	}
	return b.WithContext(contextName)
}

func (b *ClientBackend) namespaceOrDefault(namespace string) string {
	if namespace == "" {
		return b.kubeContext.namespace
	}
	return namespace
}

// translateErr folds structured 404 statuses into the domain not-found error.
func translateErr(err error, name string, kind ResourceKind) error {
	if apierrors.IsNotFound(err) {
		return &ResourceNotFoundError{Name: name, Kind: kind}
	}
	return err
}

func toUnstructured(obj runtime.Object) (*unstructured.Unstructured, error) {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, &MalformedResponseError{Detail: "converting object", Err: err}
	}
	return &unstructured.Unstructured{Object: content}, nil
}

// Get returns the named resource.
func (b *ClientBackend) Get(ctx context.Context, kind ResourceKind, name, namespace string) (*unstructured.Unstructured, error) {
	namespace = b.namespaceOrDefault(namespace)
	var (
		obj runtime.Object
		err error
	)
	switch kind {
	case KindServiceAccount:
		obj, err = b.clientset.CoreV1().ServiceAccounts(namespace).Get(ctx, name, metav1.GetOptions{})
	case KindRole:
		obj, err = b.clientset.RbacV1().Roles(namespace).Get(ctx, name, metav1.GetOptions{})
	case KindRoleBinding:
		obj, err = b.clientset.RbacV1().RoleBindings(namespace).Get(ctx, name, metav1.GetOptions{})
	case KindSecret, KindGenericSecret:
		obj, err = b.clientset.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	case KindNamespace:
		obj, err = b.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	default:
		return nil, &UnsupportedResourceKindError{Kind: kind, Op: "get"}
	}
	if err != nil {
		return nil, translateErr(err, name, kind)
	}
	return toUnstructured(obj)
}

// List returns the resources of the given kind matching all the given
// "key=value" labels. An empty namespace means all namespaces.
func (b *ClientBackend) List(ctx context.Context, kind ResourceKind, namespace string, labels []string) ([]unstructured.Unstructured, error) {
	opts := metav1.ListOptions{LabelSelector: strings.Join(labels, ",")}
	var (
		items []runtime.Object
		err   error
	)
	switch kind {
	case KindServiceAccount:
		var list *corev1.ServiceAccountList
		if list, err = b.clientset.CoreV1().ServiceAccounts(namespace).List(ctx, opts); err == nil {
			for i := range list.Items {
				items = append(items, &list.Items[i])
			}
		}
	case KindRole:
		var list *rbacv1.RoleList
		if list, err = b.clientset.RbacV1().Roles(namespace).List(ctx, opts); err == nil {
			for i := range list.Items {
				items = append(items, &list.Items[i])
			}
		}
	case KindRoleBinding:
		var list *rbacv1.RoleBindingList
		if list, err = b.clientset.RbacV1().RoleBindings(namespace).List(ctx, opts); err == nil {
			for i := range list.Items {
				items = append(items, &list.Items[i])
			}
		}
	case KindSecret, KindGenericSecret:
		var list *corev1.SecretList
		if list, err = b.clientset.CoreV1().Secrets(namespace).List(ctx, opts); err == nil {
			for i := range list.Items {
				items = append(items, &list.Items[i])
			}
		}
	default:
		return nil, &UnsupportedResourceKindError{Kind: kind, Op: "list"}
	}
	if err != nil {
		return nil, err
	}
	out := make([]unstructured.Unstructured, 0, len(items))
	for _, item := range items {
		converted, err := toUnstructured(item)
		if err != nil {
			return nil, err
		}
		out = append(out, *converted)
	}
	return out, nil
}

// GetSecretData returns the named secret's data as plain text.
func (b *ClientBackend) GetSecretData(ctx context.Context, name, namespace string) (map[string]string, error) {
	secret, err := b.clientset.CoreV1().Secrets(b.namespaceOrDefault(namespace)).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, translateErr(err, name, KindSecret)
	}
	data := make(map[string]string, len(secret.Data))
	for key, value := range secret.Data {
		data[key] = string(value)
	}
	return data, nil
}

// Create creates the named resource. ServiceAccounts, Roles and RoleBindings
// are rendered from the manifest templates; secret kinds are built from the
// "from-literal" key/value parameters.
func (b *ClientBackend) Create(ctx context.Context, kind ResourceKind, name, namespace string, params Params) error {
	if kind == KindNamespace {
		_, err := b.clientset.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
			ObjectMeta: metav1.ObjectMeta{Name: name},
		}, metav1.CreateOptions{})
		return err
	}
	namespace = b.namespaceOrDefault(namespace)
	tmplCtx := manifestContext{Name: name, Namespace: namespace, Params: params.Map()}
	switch kind {
	case KindServiceAccount:
		serviceAccount := &corev1.ServiceAccount{}
		if err := renderManifest(serviceAccountTemplate, tmplCtx, serviceAccount); err != nil {
			return err
		}
		_, err := b.clientset.CoreV1().ServiceAccounts(namespace).Create(ctx, serviceAccount, metav1.CreateOptions{})
		return err
	case KindRole:
		role := &rbacv1.Role{}
		if err := renderManifest(roleTemplate, tmplCtx, role); err != nil {
			return err
		}
		_, err := b.clientset.RbacV1().Roles(namespace).Create(ctx, role, metav1.CreateOptions{})
		return err
	case KindRoleBinding:
		roleBinding := &rbacv1.RoleBinding{}
		if err := renderManifest(roleBindingTemplate, tmplCtx, roleBinding); err != nil {
			return err
		}
		_, err := b.clientset.RbacV1().RoleBindings(namespace).Create(ctx, roleBinding, metav1.CreateOptions{})
		return err
	case KindSecret, KindGenericSecret:
		secret, err := secretFromParams(name, namespace, params)
		if err != nil {
			return err
		}
		_, err = b.clientset.CoreV1().Secrets(namespace).Create(ctx, secret, metav1.CreateOptions{})
		return err
	default:
		return &UnsupportedResourceKindError{Kind: kind, Op: "create"}
	}
}

// secretFromParams builds a Secret directly from "from-literal" pairs.
func secretFromParams(name, namespace string, params Params) (*corev1.Secret, error) {
	data := map[string][]byte{}
	for _, pair := range params.Values(fromLiteralParam) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.Errorf("malformed from-literal parameter %q, expected key=value", pair)
		}
		data[key] = []byte(value)
	}
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Data:       data,
	}, nil
}

// Delete deletes the named resource, tolerating an absent target.
func (b *ClientBackend) Delete(ctx context.Context, kind ResourceKind, name, namespace string) error {
	namespace = b.namespaceOrDefault(namespace)
	var err error
	switch kind {
	case KindServiceAccount:
		err = b.clientset.CoreV1().ServiceAccounts(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case KindRole:
		err = b.clientset.RbacV1().Roles(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case KindRoleBinding:
		err = b.clientset.RbacV1().RoleBindings(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case KindSecret, KindGenericSecret:
		err = b.clientset.CoreV1().Secrets(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case KindNamespace:
		err = b.clientset.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	default:
		return &UnsupportedResourceKindError{Kind: kind, Op: "delete"}
	}
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// Exists reports whether the named resource exists.
func (b *ClientBackend) Exists(ctx context.Context, kind ResourceKind, name, namespace string) (bool, error) {
	if _, err := b.Get(ctx, kind, name, namespace); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetLabel applies a "key=value" label to the named resource with a
// merge-style patch.
func (b *ClientBackend) SetLabel(ctx context.Context, kind ResourceKind, name, label, namespace string) error {
	key, value, ok := strings.Cut(label, "=")
	if !ok {
		return errors.Errorf("malformed label %q, expected key=value", label)
	}
	patch, err := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{
			"labels": map[string]string{key: value},
		},
	})
	if err != nil {
		return err
	}
	return b.patch(ctx, kind, name, b.namespaceOrDefault(namespace), types.MergePatchType, patch)
}

// RemoveLabel removes the label with the given key through a remove-style
// JSON patch, escaping the path separator inside the label key.
func (b *ClientBackend) RemoveLabel(ctx context.Context, kind ResourceKind, name, label, namespace string) error {
	path := "/metadata/labels/" + strings.ReplaceAll(label, "/", "~1")
	patch, err := json.Marshal([]map[string]string{{"op": "remove", "path": path}})
	if err != nil {
		return err
	}
	return b.patch(ctx, kind, name, b.namespaceOrDefault(namespace), types.JSONPatchType, patch)
}

func (b *ClientBackend) patch(ctx context.Context, kind ResourceKind, name, namespace string, patchType types.PatchType, patch []byte) error {
	var err error
	switch kind {
	case KindServiceAccount:
		_, err = b.clientset.CoreV1().ServiceAccounts(namespace).Patch(ctx, name, patchType, patch, metav1.PatchOptions{})
	case KindRole:
		_, err = b.clientset.RbacV1().Roles(namespace).Patch(ctx, name, patchType, patch, metav1.PatchOptions{})
	case KindRoleBinding:
		_, err = b.clientset.RbacV1().RoleBindings(namespace).Patch(ctx, name, patchType, patch, metav1.PatchOptions{})
	default:
		return &UnsupportedResourceKindError{Kind: kind, Op: "label"}
	}
	if err != nil {
		return translateErr(err, name, kind)
	}
	return nil
}
