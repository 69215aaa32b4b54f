package spark8s

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountID(t *testing.T) {
	account := &Account{Name: "etl", Namespace: "data"}
	assert.Equal(t, "data:etl", account.ID())
}

func TestAccountConfigurations(t *testing.T) {
	extra := NewProperties()
	extra.Set("x.mem", "4g")
	account := &Account{Name: "etl", Namespace: "data", ExtraConfs: extra}

	confs := account.Configurations()
	assert.Equal(t, []string{"x.mem", confServiceAccountName, confNamespace}, confs.Keys())

	name, _ := confs.Get(confServiceAccountName)
	assert.Equal(t, "etl", name)
	namespace, _ := confs.Get(confNamespace)
	assert.Equal(t, "data", namespace)
}

func TestAccountConfigurationsWithoutExtras(t *testing.T) {
	account := &Account{Name: "etl", Namespace: "data"}
	assert.Equal(t, 2, account.Configurations().Len())
}

func TestSplitAccountID(t *testing.T) {
	namespace, name, err := splitAccountID("data:etl")
	require.NoError(t, err)
	assert.Equal(t, "data", namespace)
	assert.Equal(t, "etl", name)

	for _, id := range []string{"", "etl", ":etl", "data:"} {
		_, _, err := splitAccountID(id)
		assert.Error(t, err, id)
	}
}

func TestResourceNames(t *testing.T) {
	assert.Equal(t, "etl-role", roleName("etl"))
	assert.Equal(t, "etl-role-binding", roleBindingName("etl"))
	assert.Equal(t, "spark8s-sa-conf-etl", confSecretName("etl"))
}

func TestResourceKind(t *testing.T) {
	assert.True(t, KindGenericSecret.valid())
	assert.False(t, ResourceKind("pod").valid())
	assert.Equal(t, []string{"secret", "generic"}, KindGenericSecret.args())
	assert.Equal(t, "secret", KindGenericSecret.noun())
	assert.Equal(t, "serviceaccount", KindServiceAccount.noun())
}

func TestDefaults(t *testing.T) {
	defaults := NewDefaults(map[string]string{
		envKubectl:    "microk8s.kubectl",
		envKubeConfig: "/home/spark/.kube/config",
	})
	assert.Equal(t, "microk8s.kubectl", defaults.KubectlCmd())
	assert.Equal(t, "/home/spark/.kube/config", defaults.KubeConfig())

	empty := NewDefaults(nil)
	assert.Equal(t, "kubectl", empty.KubectlCmd())
	assert.Equal(t, "", empty.KubeConfig())
	assert.Equal(t, "spark", empty.ServiceAccount())
	assert.Equal(t, "default", empty.Namespace())
}
