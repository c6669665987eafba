// Package permission is the static role -> (resource, action) table consulted
// on every protected operation. It is pure: no I/O, no state.
package permission

import (
	"net/http"
	"slices"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
)

// Resource is a protected business area.
type Resource string

const (
	Usuarios     Resource = "usuarios"
	Convites     Resource = "convites"
	Pacientes    Resource = "pacientes"
	Terapeutas   Resource = "terapeutas"
	Agendamentos Resource = "agendamentos"
	Sessoes      Resource = "sessoes"
	Transacoes   Resource = "transacoes"
	Relatorios   Resource = "relatorios"
)

// Action is an operation on a resource.
type Action string

const (
	List   Action = "list"
	Read   Action = "read"
	Create Action = "create"
	Update Action = "update"
	Delete Action = "delete"
)

// Resources lists every declared resource.
func Resources() []Resource {
	return []Resource{Usuarios, Convites, Pacientes, Terapeutas, Agendamentos, Sessoes, Transacoes, Relatorios}
}

// Actions lists every declared action.
func Actions() []Action { return []Action{List, Read, Create, Update, Delete} }

var allActions = Actions()

// rolePermissions maps each non-admin role to its grants. This is the single
// source of truth for the authorization model; admin holds every declared
// (resource, action) pair and is not listed.
//
// terapeuta and secretaria share no pair: clinical work (sessoes, relatorios,
// reading and charting pacientes) belongs to terapeuta, front desk work
// (registration, scheduling, billing, the therapist directory) to secretaria.
var rolePermissions = map[identity.Role]map[Resource][]Action{
	identity.RoleTerapeuta: {
		Pacientes:    {List, Read, Update},
		Agendamentos: {List, Read},
		Sessoes:      allActions,
		Relatorios:   {List, Read},
	},
	identity.RoleSecretaria: {
		Pacientes:    {Create},
		Terapeutas:   {List, Read},
		Agendamentos: {Create, Update, Delete},
		Transacoes:   {List, Read, Create, Update},
	},
}

// Valid reports whether r is a declared resource.
func (r Resource) Valid() bool { return slices.Contains(Resources(), r) }

// Valid reports whether a is a declared action.
func (a Action) Valid() bool { return slices.Contains(allActions, a) }

// Authorize reports whether role may perform action on resource.
// Unknown roles, resources and actions are denied.
func Authorize(role identity.Role, resource Resource, action Action) bool {
	if !resource.Valid() || !action.Valid() {
		return false
	}
	if role == identity.RoleAdmin {
		return true
	}
	grants, ok := rolePermissions[role]
	if !ok {
		return false
	}
	return slices.Contains(grants[resource], action)
}

// Grant is one (resource, action) pair.
type Grant struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// GrantsForRole returns every pair role holds, in declaration order.
// Returns nil for unknown roles.
func GrantsForRole(role identity.Role) []Grant {
	if !role.Valid() {
		return nil
	}
	var out []Grant
	for _, r := range Resources() {
		for _, a := range allActions {
			if Authorize(role, r, a) {
				out = append(out, Grant{Resource: r, Action: a})
			}
		}
	}
	return out
}

// ActionFromMethod maps an HTTP method to the action it performs on a
// collection or item route.
func ActionFromMethod(method string, item bool) (Action, bool) {
	switch method {
	case http.MethodGet, http.MethodHead:
		if item {
			return Read, true
		}
		return List, true
	case http.MethodPost:
		return Create, true
	case http.MethodPut, http.MethodPatch:
		return Update, true
	case http.MethodDelete:
		return Delete, true
	default:
		return "", false
	}
}
