package spark8s

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records every invocation and replays canned output.
type fakeRunner struct {
	calls [][]string
	out   []byte
	err   error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.out, f.err
}

func (f *fakeRunner) lastCall() []string {
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func newTestKubectl(t *testing.T, runner *fakeRunner) *KubectlBackend {
	t.Helper()
	backend, err := newKubectlBackend(testKubeConfig(), "/home/spark/.kube/config", "", "kubectl", runner.run, hclog.NewNullLogger())
	require.NoError(t, err)
	return backend
}

func TestKubectlCreateRole(t *testing.T) {
	runner := &fakeRunner{out: []byte("role.rbac.authorization.k8s.io/etl-role created")}
	backend := newTestKubectl(t, runner)

	err := backend.Create(context.Background(), KindRole, "etl-role", "data", rolePermissions)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"kubectl",
		"--kubeconfig=/home/spark/.kube/config",
		"--context=spark-dev",
		"--namespace=data",
		"create", "role", "etl-role",
		"--resource=pods", "--resource=configmaps", "--resource=services",
		"--verb=create", "--verb=get", "--verb=list", "--verb=watch", "--verb=delete",
		"-o", "name",
	}, runner.lastCall())
}

func TestKubectlCreateDropsUsername(t *testing.T) {
	runner := &fakeRunner{}
	backend := newTestKubectl(t, runner)

	err := backend.Create(context.Background(), KindServiceAccount, "etl", "data", Params{
		{Key: usernameParam, Values: []string{"etl"}},
	})
	require.NoError(t, err)

	for _, arg := range runner.lastCall() {
		assert.NotContains(t, arg, "--username")
	}
}

func TestKubectlCreateGenericSecret(t *testing.T) {
	runner := &fakeRunner{}
	backend := newTestKubectl(t, runner)

	err := backend.Create(context.Background(), KindGenericSecret, "spark8s-sa-conf-etl", "data", Params{
		{Key: fromLiteralParam, Values: []string{"x_2Emem=4g", "b=2"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"kubectl",
		"--kubeconfig=/home/spark/.kube/config",
		"--context=spark-dev",
		"--namespace=data",
		"create", "secret", "generic", "spark8s-sa-conf-etl",
		"--from-literal=x_2Emem=4g", "--from-literal=b=2",
		"-o", "name",
	}, runner.lastCall())
}

func TestKubectlCreateNamespace(t *testing.T) {
	runner := &fakeRunner{}
	backend := newTestKubectl(t, runner)

	err := backend.Create(context.Background(), KindNamespace, "sandbox", "", nil)
	require.NoError(t, err)

	call := runner.lastCall()
	assert.Contains(t, call, "namespace")
	for _, arg := range call {
		assert.NotContains(t, arg, "--namespace")
	}
}

func TestKubectlDefaultNamespace(t *testing.T) {
	runner := &fakeRunner{}
	backend := newTestKubectl(t, runner)

	err := backend.Create(context.Background(), KindServiceAccount, "etl", "", nil)
	require.NoError(t, err)

	// context namespace from the kubeconfig fixture
	assert.Contains(t, runner.lastCall(), "--namespace=data")
}

func TestKubectlDelete(t *testing.T) {
	runner := &fakeRunner{}
	backend := newTestKubectl(t, runner)

	err := backend.Delete(context.Background(), KindRoleBinding, "etl-role-binding", "data")
	require.NoError(t, err)

	call := runner.lastCall()
	assert.Contains(t, call, "delete")
	assert.Contains(t, call, "rolebinding")
	assert.Contains(t, call, "--ignore-not-found=true")
}

func TestKubectlGet(t *testing.T) {
	runner := &fakeRunner{out: []byte(`apiVersion: v1
kind: ServiceAccount
metadata:
  name: etl
  namespace: data
  labels:
    app.kubernetes.io/managed-by: spark8s
`)}
	backend := newTestKubectl(t, runner)

	obj, err := backend.Get(context.Background(), KindServiceAccount, "etl", "data")
	require.NoError(t, err)
	assert.Equal(t, "etl", obj.GetName())
	assert.Equal(t, "data", obj.GetNamespace())
	assert.Equal(t, productLabel, obj.GetLabels()[managedByLabelName])
}

func TestKubectlGetNotFound(t *testing.T) {
	runner := &fakeRunner{err: errors.New(`exit status 1: Error from server (NotFound): serviceaccounts "etl" not found`)}
	backend := newTestKubectl(t, runner)

	_, err := backend.Get(context.Background(), KindServiceAccount, "etl", "data")
	assert.True(t, IsNotFound(err))

	var notFound *ResourceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "etl", notFound.Name)
	assert.Equal(t, KindServiceAccount, notFound.Kind)
}

func TestKubectlGetMalformed(t *testing.T) {
	runner := &fakeRunner{out: []byte("\t: not yaml at all {")}
	backend := newTestKubectl(t, runner)

	_, err := backend.Get(context.Background(), KindServiceAccount, "etl", "data")
	var malformed *MalformedResponseError
	assert.ErrorAs(t, err, &malformed)
}

func TestKubectlList(t *testing.T) {
	runner := &fakeRunner{out: []byte(`apiVersion: v1
kind: List
items:
  - apiVersion: v1
    kind: ServiceAccount
    metadata:
      name: etl
      namespace: data
  - apiVersion: v1
    kind: ServiceAccount
    metadata:
      name: feed
      namespace: data
`)}
	backend := newTestKubectl(t, runner)

	items, err := backend.List(context.Background(), KindServiceAccount, "", []string{
		managedByLabelName + "=" + productLabel,
		primaryLabelName + "=true",
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "etl", items[0].GetName())
	assert.Equal(t, "feed", items[1].GetName())

	call := runner.lastCall()
	assert.Contains(t, call, "--all-namespaces")
	assert.Contains(t, call, "-l")
	assert.Contains(t, call, managedByLabelName+"="+productLabel+","+primaryLabelName+"=true")
}

func TestKubectlGetSecretData(t *testing.T) {
	runner := &fakeRunner{out: []byte(`apiVersion: v1
kind: Secret
metadata:
  name: spark8s-sa-conf-etl
  namespace: data
data:
  x_2Emem: NGc=
`)}
	backend := newTestKubectl(t, runner)

	data, err := backend.GetSecretData(context.Background(), "spark8s-sa-conf-etl", "data")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"x_2Emem": "4g"}, data)
}

func TestKubectlGetSecretDataAbsent(t *testing.T) {
	// --ignore-not-found makes kubectl exit cleanly with empty output
	runner := &fakeRunner{out: []byte("\n")}
	backend := newTestKubectl(t, runner)

	_, err := backend.GetSecretData(context.Background(), "spark8s-sa-conf-etl", "data")
	assert.True(t, IsNotFound(err))
}

func TestKubectlExists(t *testing.T) {
	runner := &fakeRunner{out: []byte("")}
	backend := newTestKubectl(t, runner)

	exists, err := backend.Exists(context.Background(), KindRole, "etl-role", "data")
	require.NoError(t, err)
	assert.False(t, exists)

	runner.out = []byte("apiVersion: v1\nkind: Role\n")
	exists, err = backend.Exists(context.Background(), KindRole, "etl-role", "data")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestKubectlLabels(t *testing.T) {
	runner := &fakeRunner{}
	backend := newTestKubectl(t, runner)

	err := backend.SetLabel(context.Background(), KindServiceAccount, "etl", managedByLabelName+"="+productLabel, "data")
	require.NoError(t, err)
	assert.Contains(t, runner.lastCall(), managedByLabelName+"="+productLabel)

	err = backend.RemoveLabel(context.Background(), KindServiceAccount, "etl", primaryLabelName, "data")
	require.NoError(t, err)
	assert.Contains(t, runner.lastCall(), primaryLabelName+"-")
}

func TestKubectlUnsupportedKind(t *testing.T) {
	runner := &fakeRunner{}
	backend := newTestKubectl(t, runner)

	err := backend.Create(context.Background(), ResourceKind("pod"), "p", "data", nil)
	var unsupported *UnsupportedResourceKindError
	assert.ErrorAs(t, err, &unsupported)
	assert.Empty(t, runner.calls)
}

func TestKubectlWithContext(t *testing.T) {
	backend := newTestKubectl(t, &fakeRunner{})

	rebound, err := backend.WithContext("spark-prod")
	require.NoError(t, err)
	assert.Equal(t, "spark-prod", rebound.ContextName())
	assert.Equal(t, defaultNamespace, rebound.Namespace())
	assert.Equal(t, defaultUser, rebound.User())
	assert.Equal(t, prodServer, rebound.APIServer())

	// the original binding is untouched
	assert.Equal(t, "spark-dev", backend.ContextName())
}

func TestKubectlSelectByEndpoint(t *testing.T) {
	backend := newTestKubectl(t, &fakeRunner{})

	t.Run("same endpoint returns self", func(t *testing.T) {
		selected, err := backend.SelectByEndpoint(devServer)
		require.NoError(t, err)
		assert.Same(t, Backend(backend), selected)
	})

	t.Run("other endpoint rebinds", func(t *testing.T) {
		selected, err := backend.SelectByEndpoint(prodServer)
		require.NoError(t, err)
		assert.Equal(t, "spark-prod", selected.ContextName())
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		_, err := backend.SelectByEndpoint("https://unknown:6443")
		assert.True(t, IsAccountNotFound(err))
	})
}

func TestKubectlAutodetect(t *testing.T) {
	runner := &fakeRunner{out: []byte(`apiVersion: v1
kind: Config
current-context: spark-dev
clusters:
  - name: dev
    cluster:
      server: ` + devServer + `
contexts:
  - name: spark-dev
    context:
      cluster: dev
      namespace: data
      user: admin
`)}

	backend, err := autodetectKubectl(context.Background(), "", "kubectl", runner.run, hclog.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, "spark-dev", backend.ContextName())
	assert.Equal(t, devServer, backend.APIServer())

	call := runner.lastCall()
	assert.Contains(t, call, "config")
	assert.Contains(t, call, "view")
	assert.Contains(t, call, "--minify")
}
