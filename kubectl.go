package spark8s

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
	"sigs.k8s.io/yaml"
)

const (
	outputYAML = "yaml"
	outputName = "name"
)

// runnerFunc executes a binary and returns its stdout. Failures carry the
// process error text so callers can classify them.
type runnerFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// runCommand is the default runner, backed by os/exec.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// KubectlBackend implements Backend by driving the kubectl binary and
// parsing its serialized-object output.
type KubectlBackend struct {
	config         *clientcmdapi.Config
	kubeconfigPath string
	kubectlCmd     string
	kubeContext    *clusterContext
	runner         runnerFunc
	logger         hclog.Logger
}

var _ Backend = (*KubectlBackend)(nil)

// NewKubectlBackend builds a command backend from a kubeconfig file. An empty
// contextName binds the kubeconfig's current context.
func NewKubectlBackend(kubeconfigPath, contextName, kubectlCmd string, logger hclog.Logger) (*KubectlBackend, error) {
	config, err := clientcmd.LoadFromFile(kubeconfigPath)
	if err != nil {
		return nil, errors.Wrapf(err, "loading kubeconfig %s", kubeconfigPath)
	}
	return newKubectlBackend(config, kubeconfigPath, contextName, kubectlCmd, runCommand, logger)
}

// AutodetectKubectl builds a command backend from the configuration reported
// by the kubectl binary itself.
func AutodetectKubectl(ctx context.Context, contextName, kubectlCmd string, logger hclog.Logger) (*KubectlBackend, error) {
	return autodetectKubectl(ctx, contextName, kubectlCmd, runCommand, logger)
}

func autodetectKubectl(ctx context.Context, contextName, kubectlCmd string, run runnerFunc, logger hclog.Logger) (*KubectlBackend, error) {
	args := []string{"config", "view", "--minify", "-o", outputYAML}
	if contextName != "" {
		args = append([]string{"--context=" + contextName}, args...)
	}
	out, err := run(ctx, kubectlCmd, args...)
	if err != nil {
		return nil, err
	}
	config, err := clientcmd.Load(out)
	if err != nil {
		return nil, &MalformedResponseError{Detail: "kubectl config view output", Err: err}
	}
	return newKubectlBackend(config, "", contextName, kubectlCmd, run, logger)
}

func newKubectlBackend(config *clientcmdapi.Config, kubeconfigPath, contextName, kubectlCmd string, run runnerFunc, logger hclog.Logger) (*KubectlBackend, error) {
	resolved, err := resolveContext(config, contextName)
	if err != nil {
		return nil, err
	}
	if kubectlCmd == "" {
		kubectlCmd = "kubectl"
	}
	if logger == nil {
		logger = hclog.Default().Named("kubectl")
	}
	return &KubectlBackend{
		config:         config,
		kubeconfigPath: kubeconfigPath,
		kubectlCmd:     kubectlCmd,
		kubeContext:    resolved,
		runner:         run,
		logger:         logger,
	}, nil
}

// ContextName returns the kubeconfig context the backend is bound to.
func (b *KubectlBackend) ContextName() string {
	return b.kubeContext.name
}

// Namespace returns the default namespace of the bound context.
func (b *KubectlBackend) Namespace() string {
	return b.kubeContext.namespace
}

// User returns the user of the bound context.
func (b *KubectlBackend) User() string {
	return b.kubeContext.user
}

// APIServer returns the cluster endpoint of the bound context.
func (b *KubectlBackend) APIServer() string {
	return b.kubeContext.apiServer
}

// WithContext returns a new backend bound to the named context.
func (b *KubectlBackend) WithContext(contextName string) (Backend, error) {
	return newKubectlBackend(b.config, b.kubeconfigPath, contextName, b.kubectlCmd, b.runner, b.logger)
}

// WithKubectlCmd returns a new backend driving a different kubectl binary.
func (b *KubectlBackend) WithKubectlCmd(kubectlCmd string) (*KubectlBackend, error) {
	return newKubectlBackend(b.config, b.kubeconfigPath, b.kubeContext.name, kubectlCmd, b.runner, b.logger)
}

// SelectByEndpoint returns a backend bound to a context on the given cluster
// endpoint.
func (b *KubectlBackend) SelectByEndpoint(endpoint string) (Backend, error) {
	contextName, err := endpointContext(b.config, endpoint, b.kubeContext.name)
	if err != nil {
		return nil, err
	}
	if contextName == b.kubeContext.name {
		return b, nil
	}
	return b.WithContext(contextName)
}

// exec invokes kubectl with the bound kubeconfig, context and the given
// namespace scoping, and returns its stdout.
func (b *KubectlBackend) exec(ctx context.Context, namespace string, allNamespaces bool, output string, args ...string) ([]byte, error) {
	argv := make([]string, 0, len(args)+5)
	if b.kubeconfigPath != "" {
		argv = append(argv, "--kubeconfig="+b.kubeconfigPath)
	}
	argv = append(argv, "--context="+b.kubeContext.name)
	switch {
	case allNamespaces:
		argv = append(argv, "--all-namespaces")
	case namespace != "":
		argv = append(argv, "--namespace="+namespace)
	}
	argv = append(argv, args...)
	if output != "" {
		argv = append(argv, "-o", output)
	}
	b.logger.Debug("executing kubectl", "args", strings.Join(argv, " "))
	return b.runner(ctx, b.kubectlCmd, argv...)
}

func (b *KubectlBackend) namespaceOrDefault(namespace string) string {
	if namespace == "" {
		return b.kubeContext.namespace
	}
	return namespace
}

// isNotFoundOutput reports whether process error text denotes a missing
// resource.
func isNotFoundOutput(text string) bool {
	return strings.Contains(text, "NotFound") || strings.Contains(text, "not found")
}

// Get returns the named resource parsed from kubectl's yaml output.
func (b *KubectlBackend) Get(ctx context.Context, kind ResourceKind, name, namespace string) (*unstructured.Unstructured, error) {
	if !kind.valid() {
		return nil, &UnsupportedResourceKindError{Kind: kind, Op: "get"}
	}
	if kind == KindNamespace {
		namespace = ""
	} else {
		namespace = b.namespaceOrDefault(namespace)
	}
	out, err := b.exec(ctx, namespace, false, outputYAML, "get", kind.noun(), name)
	if err != nil {
		if isNotFoundOutput(err.Error()) {
			return nil, &ResourceNotFoundError{Name: name, Kind: kind}
		}
		return nil, err
	}
	return decodeObject(out)
}

// List returns the resources of the given kind matching all the given labels.
func (b *KubectlBackend) List(ctx context.Context, kind ResourceKind, namespace string, labels []string) ([]unstructured.Unstructured, error) {
	if !kind.valid() {
		return nil, &UnsupportedResourceKindError{Kind: kind, Op: "list"}
	}
	args := []string{"get", kind.noun()}
	if len(labels) > 0 {
		args = append(args, "-l", strings.Join(labels, ","))
	}
	out, err := b.exec(ctx, namespace, namespace == "", outputYAML, args...)
	if err != nil {
		return nil, err
	}
	list := &unstructured.UnstructuredList{}
	data, err := yaml.YAMLToJSON(out)
	if err != nil {
		return nil, &MalformedResponseError{Detail: "kubectl list output", Err: err}
	}
	if err := list.UnmarshalJSON(data); err != nil {
		return nil, &MalformedResponseError{Detail: "kubectl list output", Err: err}
	}
	return list.Items, nil
}

// GetSecretData returns the named secret's data, decoded from the base64
// wire encoding to plain text.
func (b *KubectlBackend) GetSecretData(ctx context.Context, name, namespace string) (map[string]string, error) {
	out, err := b.exec(ctx, b.namespaceOrDefault(namespace), false, outputYAML,
		"get", string(KindSecret), name, "--ignore-not-found")
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, &ResourceNotFoundError{Name: name, Kind: KindSecret}
	}
	secret := &corev1.Secret{}
	if err := yaml.Unmarshal(out, secret); err != nil {
		return nil, &MalformedResponseError{Detail: "kubectl secret output", Err: err}
	}
	data := make(map[string]string, len(secret.Data))
	for key, value := range secret.Data {
		data[key] = string(value)
	}
	return data, nil
}

// Create creates the named resource. Extra parameters render as one
// "--key=value" flag per value, in input order. Labeling is left to a
// separate SetLabel step: passing the username parameter at creation time
// trips kubectl's one-authentication-method check against the kubeconfig
// user, so it is dropped here.
func (b *KubectlBackend) Create(ctx context.Context, kind ResourceKind, name, namespace string, params Params) error {
	if !kind.valid() {
		return &UnsupportedResourceKindError{Kind: kind, Op: "create"}
	}
	args := append([]string{"create"}, kind.args()...)
	args = append(args, name)
	if kind == KindNamespace {
		_, err := b.exec(ctx, "", false, outputName, args...)
		return err
	}
	for _, param := range params {
		if param.Key == usernameParam {
			continue
		}
		for _, value := range param.Values {
			args = append(args, "--"+param.Key+"="+value)
		}
	}
	_, err := b.exec(ctx, b.namespaceOrDefault(namespace), false, outputName, args...)
	return err
}

// Delete deletes the named resource, tolerating an absent target.
func (b *KubectlBackend) Delete(ctx context.Context, kind ResourceKind, name, namespace string) error {
	if !kind.valid() {
		return &UnsupportedResourceKindError{Kind: kind, Op: "delete"}
	}
	if kind == KindNamespace {
		namespace = ""
	} else {
		namespace = b.namespaceOrDefault(namespace)
	}
	_, err := b.exec(ctx, namespace, false, outputName, "delete", kind.noun(), name, "--ignore-not-found=true")
	return err
}

// Exists reports whether the named resource exists.
func (b *KubectlBackend) Exists(ctx context.Context, kind ResourceKind, name, namespace string) (bool, error) {
	if !kind.valid() {
		return false, &UnsupportedResourceKindError{Kind: kind, Op: "exists"}
	}
	if kind == KindNamespace {
		namespace = ""
	} else {
		namespace = b.namespaceOrDefault(namespace)
	}
	out, err := b.exec(ctx, namespace, false, outputYAML, "get", kind.noun(), name, "--ignore-not-found")
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(out)) > 0, nil
}

// SetLabel applies a "key=value" label to the named resource.
func (b *KubectlBackend) SetLabel(ctx context.Context, kind ResourceKind, name, label, namespace string) error {
	if !kind.valid() {
		return &UnsupportedResourceKindError{Kind: kind, Op: "label"}
	}
	_, err := b.exec(ctx, b.namespaceOrDefault(namespace), false, outputName, "label", kind.noun(), name, label)
	return err
}

// RemoveLabel removes the label with the given key from the named resource.
func (b *KubectlBackend) RemoveLabel(ctx context.Context, kind ResourceKind, name, label, namespace string) error {
	if !kind.valid() {
		return &UnsupportedResourceKindError{Kind: kind, Op: "label"}
	}
	_, err := b.exec(ctx, b.namespaceOrDefault(namespace), false, outputName, "label", kind.noun(), name, label+"-")
	return err
}

// decodeObject parses a single yaml-serialized object.
func decodeObject(out []byte) (*unstructured.Unstructured, error) {
	data, err := yaml.YAMLToJSON(out)
	if err != nil {
		return nil, &MalformedResponseError{Detail: "kubectl object output", Err: err}
	}
	obj := &unstructured.Unstructured{}
	if err := json.Unmarshal(data, obj); err != nil {
		return nil, &MalformedResponseError{Detail: "kubectl object output", Err: err}
	}
	return obj, nil
}
