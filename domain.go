package spark8s

import (
	"strings"

	"github.com/pkg/errors"
)

// label and naming constants
const (
	productLabel       = "spark8s"
	managedByLabelName = "app.kubernetes.io/managed-by"
	primaryLabelName   = "app.kubernetes.io/spark8s-primary"

	roleNameSuffix        = "-role"
	roleBindingNameSuffix = "-role-binding"
	confSecretNamePrefix  = productLabel + "-sa-conf-"

	defaultNamespace = "default"
	defaultUser      = "default"
)

// creation parameter keys
const (
	usernameParam       = "username"
	roleParam           = "role"
	serviceAccountParam = "serviceaccount"
	resourceParam       = "resource"
	verbParam           = "verb"
	fromLiteralParam    = "from-literal"
)

// environment keys consumed through Defaults
const (
	envKubectl    = "SPARK_KUBECTL"
	envKubeConfig = "KUBECONFIG"
)

// injected configuration keys, derived from the account identity
const (
	confServiceAccountName = "spark.kubernetes.authenticate.driver.serviceAccountName"
	confNamespace          = "spark.kubernetes.namespace"
)

// ResourceKind enumerates the Kubernetes resource kinds the backends operate on.
type ResourceKind string

const (
	KindServiceAccount ResourceKind = "serviceaccount"
	KindRole           ResourceKind = "role"
	KindRoleBinding    ResourceKind = "rolebinding"
	KindSecret         ResourceKind = "secret"
	KindGenericSecret  ResourceKind = "secret generic"
	KindNamespace      ResourceKind = "namespace"
)

// valid reports whether the kind belongs to the enumerated set.
func (k ResourceKind) valid() bool {
	switch k {
	case KindServiceAccount, KindRole, KindRoleBinding, KindSecret, KindGenericSecret, KindNamespace:
		return true
	}
	return false
}

// args returns the kind as kubectl sub-command arguments. GenericSecret
// expands to the two-token "secret generic" form used on creation.
func (k ResourceKind) args() []string {
	return strings.Fields(string(k))
}

// noun returns the single-token resource name used on read, delete and label
// operations, where a generic secret is addressed simply as a secret.
func (k ResourceKind) noun() string {
	if k == KindGenericSecret {
		return string(KindSecret)
	}
	return string(k)
}

// Account is the composite spark8s entity: an identity backed by a
// ServiceAccount, a Role, a RoleBinding and an optional configuration Secret.
type Account struct {
	Name       string
	Namespace  string
	APIServer  string
	Primary    bool
	ExtraConfs *Properties
}

// ID returns the account identity key, namespace:name.
func (a *Account) ID() string {
	return a.Namespace + ":" + a.Name
}

// Configurations returns the account configuration: the extra confs plus the
// identity-binding keys derived from the account itself.
func (a *Account) Configurations() *Properties {
	derived := NewProperties()
	derived.Set(confServiceAccountName, a.Name)
	derived.Set(confNamespace, a.Namespace)
	return a.ExtraConfs.Merge(derived)
}

// splitAccountID splits an identity key into namespace and name.
func splitAccountID(id string) (namespace string, name string, err error) {
	namespace, name, ok := strings.Cut(id, ":")
	if !ok || namespace == "" || name == "" {
		return "", "", errors.Errorf("malformed account id %q, expected namespace:name", id)
	}
	return namespace, name, nil
}

func roleName(name string) string {
	return name + roleNameSuffix
}

func roleBindingName(name string) string {
	return name + roleBindingNameSuffix
}

func confSecretName(name string) string {
	return confSecretNamePrefix + name
}

// Defaults carries the process-level defaults resolved by the caller. The
// environ map is passed in explicitly; nothing is read from ambient state.
type Defaults struct {
	environ map[string]string
}

// NewDefaults builds a Defaults value from the provided environment map.
func NewDefaults(environ map[string]string) *Defaults {
	if environ == nil {
		environ = map[string]string{}
	}
	return &Defaults{environ: environ}
}

// KubectlCmd returns the kubectl binary to drive, SPARK_KUBECTL or "kubectl".
func (d *Defaults) KubectlCmd() string {
	if cmd, ok := d.environ[envKubectl]; ok && cmd != "" {
		return cmd
	}
	return "kubectl"
}

// KubeConfig returns the kubeconfig path from KUBECONFIG.
func (d *Defaults) KubeConfig() string {
	return d.environ[envKubeConfig]
}

// ServiceAccount returns the default account name.
func (d *Defaults) ServiceAccount() string {
	return "spark"
}

// Namespace returns the default namespace.
func (d *Defaults) Namespace() string {
	return defaultNamespace
}
