// Package authz decides which operations a role may perform on which records.
//
// The policy is a fixed table evaluated by an in-memory casbin enforcer. The
// gate performs no I/O and keeps no per-request state; callers consult it before
// opening a live query or issuing a write, so a denied operation never reaches
// the store.
package authz

import (
	"errors"
	"fmt"

	casbin "github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"carestream.org/internal/records"
)

// ErrNotPermitted is returned by Check for any operation outside the policy table.
var ErrNotPermitted = errors.New("authz: not permitted")

// Operation is an action on a record kind.
type Operation string

const (
	ReadAll      Operation = "read-all"
	ReadOwn      Operation = "read-own"
	Create       Operation = "create"
	UpdateStatus Operation = "update-status"
	Delete       Operation = "delete"
	ChangeRole   Operation = "change-role"
)

// Operations lists every operation the gate knows.
var Operations = []Operation{ReadAll, ReadOwn, Create, UpdateStatus, Delete, ChangeRole}

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

// Rule is one allowed (role, kind, operation) triple.
type Rule struct {
	Role      records.Role
	Kind      records.Kind
	Operation Operation
}

// Policy is the complete allow-list. Anything absent is denied.
var Policy = []Rule{
	{records.RolePatient, records.KindPatient, ReadOwn},
	{records.RolePatient, records.KindAppointment, ReadOwn},
	{records.RolePatient, records.KindPrescription, ReadOwn},

	{records.RoleDoctor, records.KindPatient, ReadAll},
	{records.RoleDoctor, records.KindAppointment, ReadAll},
	{records.RoleDoctor, records.KindAppointment, UpdateStatus},
	{records.RoleDoctor, records.KindPrescription, Create},
	{records.RoleDoctor, records.KindPrescription, ReadAll},

	{records.RoleReceptionist, records.KindPatient, ReadAll},
	{records.RoleReceptionist, records.KindPatient, Create},
	{records.RoleReceptionist, records.KindPatient, Delete},
	{records.RoleReceptionist, records.KindAppointment, ReadAll},
	{records.RoleReceptionist, records.KindAppointment, Create},
	{records.RoleReceptionist, records.KindAppointment, UpdateStatus},

	{records.RoleAdmin, records.KindPatient, ReadAll},
	{records.RoleAdmin, records.KindAppointment, ReadAll},
	{records.RoleAdmin, records.KindPrescription, ReadAll},
	{records.RoleAdmin, records.KindUser, ReadAll},
	{records.RoleAdmin, records.KindUser, ChangeRole},
}

// Gate evaluates Policy.
type Gate struct {
	enforcer *casbin.SyncedEnforcer
}

// NewGate builds a gate loaded with Policy.
func NewGate() (*Gate, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("authz: load model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz: new enforcer: %w", err)
	}
	for _, r := range Policy {
		if _, err := e.AddPolicy(string(r.Role), string(r.Kind), string(r.Operation)); err != nil {
			return nil, fmt.Errorf("authz: add policy %v: %w", r, err)
		}
	}
	return &Gate{enforcer: e}, nil
}

// MustNewGate is NewGate for process start-up and tests.
func MustNewGate() *Gate {
	g, err := NewGate()
	if err != nil {
		panic(err)
	}
	return g
}

// Allowed reports whether role may perform op on kind.
func (g *Gate) Allowed(role records.Role, kind records.Kind, op Operation) bool {
	ok, err := g.enforcer.Enforce(string(role), string(kind), string(op))
	return err == nil && ok
}

// Check returns ErrNotPermitted when role may not perform op on kind.
func (g *Gate) Check(role records.Role, kind records.Kind, op Operation) error {
	if g.Allowed(role, kind, op) {
		return nil
	}
	return fmt.Errorf("%w: %s may not %s %s", ErrNotPermitted, role, op, kind)
}

// ReadScope returns the widest read operation role holds on kind.
func (g *Gate) ReadScope(role records.Role, kind records.Kind) (Operation, bool) {
	switch {
	case g.Allowed(role, kind, ReadAll):
		return ReadAll, true
	case g.Allowed(role, kind, ReadOwn):
		return ReadOwn, true
	}
	return "", false
}
