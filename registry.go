package spark8s

import (
	"context"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// rolePermissions is the fixed permission template granted to every account's
// Role. It is not configurable per account.
var rolePermissions = Params{
	{Key: resourceParam, Values: []string{"pods", "configmaps", "services"}},
	{Key: verbParam, Values: []string{"create", "get", "list", "watch", "delete"}},
}

// Registry manages spark8s accounts on top of a Backend, treating the
// identity, role, binding and configuration secret as one entity.
type Registry struct {
	backend Backend
	logger  hclog.Logger
}

// NewRegistry builds a Registry over the given backend.
func NewRegistry(backend Backend, logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.Default().Named("registry")
	}
	return &Registry{backend: backend, logger: logger}
}

// All returns the accounts carrying the managed-by marker. An empty namespace
// means all namespaces.
func (r *Registry) All(ctx context.Context, namespace string) ([]*Account, error) {
	items, err := r.backend.List(ctx, KindServiceAccount, namespace, []string{managedByLabelName + "=" + productLabel})
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0, len(items))
	for i := range items {
		accounts = append(accounts, r.hydrate(ctx, &items[i]))
	}
	return accounts, nil
}

// hydrate builds an Account from a listed identity object, reading the
// primary flag from its labels and the configuration from its secret.
func (r *Registry) hydrate(ctx context.Context, obj *unstructured.Unstructured) *Account {
	_, primary := obj.GetLabels()[primaryLabelName]
	return &Account{
		Name:       obj.GetName(),
		Namespace:  obj.GetNamespace(),
		APIServer:  r.backend.APIServer(),
		Primary:    primary,
		ExtraConfs: r.accountConfigurations(ctx, obj.GetName(), obj.GetNamespace()),
	}
}

// accountConfigurations reads the account's configuration secret. An absent
// or unreadable secret yields an empty configuration, never an error.
func (r *Registry) accountConfigurations(ctx context.Context, name, namespace string) *Properties {
	secretName := confSecretName(name)
	data, err := r.backend.GetSecretData(ctx, secretName, namespace)
	if err != nil {
		if !IsNotFound(err) {
			r.logger.Debug("could not read configuration secret", "secret", secretName, "error", err)
		}
		return NewProperties()
	}
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	confs := NewProperties()
	for _, key := range keys {
		decoded, err := keySerializer.deserialize(key)
		if err != nil {
			r.logger.Warn("skipping undecodable configuration key", "secret", secretName, "key", key, "error", err)
			continue
		}
		confs.Set(decoded, data[key])
	}
	return confs
}

// Create provisions the account's identity, role and binding, applies the
// managed-by marker, and then the primary election and configuration when
// requested. Nothing is rolled back on failure; callers clean up partially
// created accounts with Delete.
func (r *Registry) Create(ctx context.Context, account *Account) (string, error) {
	name := account.Name
	namespace := account.Namespace
	role := roleName(name)
	binding := roleBindingName(name)

	if err := r.backend.Create(ctx, KindServiceAccount, name, namespace, Params{
		{Key: usernameParam, Values: []string{name}},
	}); err != nil {
		return "", err
	}
	if err := r.backend.Create(ctx, KindRole, role, namespace, rolePermissions); err != nil {
		return "", err
	}
	if err := r.backend.Create(ctx, KindRoleBinding, binding, namespace, Params{
		{Key: roleParam, Values: []string{role}},
		{Key: serviceAccountParam, Values: []string{namespace + ":" + name}},
		{Key: usernameParam, Values: []string{name}},
	}); err != nil {
		return "", err
	}

	marker := managedByLabelName + "=" + productLabel
	for _, step := range []struct {
		kind ResourceKind
		name string
	}{
		{KindServiceAccount, name},
		{KindRole, role},
		{KindRoleBinding, binding},
	} {
		if err := r.backend.SetLabel(ctx, step.kind, step.name, marker, namespace); err != nil {
			return "", err
		}
	}

	id := account.ID()
	if account.Primary {
		if _, err := r.SetPrimary(ctx, id); err != nil {
			return "", err
		}
	}
	if account.ExtraConfs.Len() > 0 {
		if _, err := r.SetConfigurations(ctx, id, account.ExtraConfs); err != nil {
			return "", err
		}
	}
	return id, nil
}

// SetPrimary elects the account with the given id as the namespace's primary.
// The previous primary, when present, is demoted first; failures demoting are
// logged and do not abort the promotion.
func (r *Registry) SetPrimary(ctx context.Context, id string) (string, error) {
	namespace, _, err := splitAccountID(id)
	if err != nil {
		return "", err
	}

	previous, err := r.GetPrimary(ctx, namespace)
	if err != nil {
		return "", err
	}
	if previous != nil {
		for _, step := range []struct {
			kind ResourceKind
			name string
		}{
			{KindServiceAccount, previous.Name},
			{KindRoleBinding, roleBindingName(previous.Name)},
		} {
			if err := r.backend.RemoveLabel(ctx, step.kind, step.name, primaryLabelName, previous.Namespace); err != nil {
				r.logger.Warn("could not remove primary label", "kind", string(step.kind), "name", step.name, "error", err)
			}
		}
	}

	account, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", &AccountNotFoundError{ID: id}
	}

	label := primaryLabelName + "=true"
	if err := r.backend.SetLabel(ctx, KindServiceAccount, account.Name, label, account.Namespace); err != nil {
		return "", err
	}
	if err := r.backend.SetLabel(ctx, KindRoleBinding, roleBindingName(account.Name), label, account.Namespace); err != nil {
		return "", err
	}
	return id, nil
}

// GetPrimary returns the namespace's primary account, nil when no managed
// account exists or none is marked primary. Duplicate primaries are resolved
// deterministically by taking the lexicographically smallest id.
func (r *Registry) GetPrimary(ctx context.Context, namespace string) (*Account, error) {
	accounts, err := r.All(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		r.logger.Warn("no managed accounts found", "namespace", namespace)
		return nil, nil
	}
	var primaries []*Account
	for _, account := range accounts {
		if account.Primary {
			primaries = append(primaries, account)
		}
	}
	if len(primaries) == 0 {
		r.logger.Warn("no primary account found", "namespace", namespace)
		return nil, nil
	}
	if len(primaries) > 1 {
		names := make([]string, 0, len(primaries))
		for _, account := range primaries {
			names = append(names, account.ID())
		}
		sort.Slice(primaries, func(i, j int) bool { return primaries[i].ID() < primaries[j].ID() })
		r.logger.Warn("more than one primary account found, using the first",
			"accounts", strings.Join(names, ","), "chosen", primaries[0].ID())
	}
	return primaries[0], nil
}

// SetConfigurations replaces the account's configuration secret wholesale
// with the given configuration, percent-encoding every key.
func (r *Registry) SetConfigurations(ctx context.Context, id string, confs *Properties) (string, error) {
	namespace, name, err := splitAccountID(id)
	if err != nil {
		return "", err
	}
	secretName := confSecretName(name)
	if err := r.backend.Delete(ctx, KindSecret, secretName, namespace); err != nil {
		r.logger.Debug("could not delete previous configuration secret", "secret", secretName, "error", err)
	}
	pairs := make([]string, 0, confs.Len())
	for _, key := range confs.Keys() {
		value, _ := confs.Get(key)
		pairs = append(pairs, keySerializer.serialize(key)+"="+value)
	}
	if err := r.backend.Create(ctx, KindGenericSecret, secretName, namespace, Params{
		{Key: fromLiteralParam, Values: pairs},
	}); err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes the account's identity, role, binding and configuration
// secret. Each deletion is attempted independently; failures are logged and
// aggregated, never aborting the remaining steps.
func (r *Registry) Delete(ctx context.Context, id string) (string, error) {
	namespace, name, err := splitAccountID(id)
	if err != nil {
		return "", err
	}
	var problems *multierror.Error
	for _, step := range []struct {
		kind ResourceKind
		name string
	}{
		{KindServiceAccount, name},
		{KindRole, roleName(name)},
		{KindRoleBinding, roleBindingName(name)},
		{KindSecret, confSecretName(name)},
	} {
		if err := r.backend.Delete(ctx, step.kind, step.name, namespace); err != nil {
			r.logger.Warn("could not delete resource", "kind", string(step.kind), "name", step.name, "error", err)
			problems = multierror.Append(problems, err)
		}
	}
	return id, problems.ErrorOrNil()
}

// Get returns the account with the given id, nil when the identity object
// does not exist.
func (r *Registry) Get(ctx context.Context, id string) (*Account, error) {
	namespace, name, err := splitAccountID(id)
	if err != nil {
		return nil, err
	}
	obj, err := r.backend.Get(ctx, KindServiceAccount, name, namespace)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.hydrate(ctx, obj), nil
}
