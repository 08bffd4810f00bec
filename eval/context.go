package eval

// Role names a slot in the evaluation context that binds a tuple pointer
// so that instruction operands can refer to it by a small integer (spec
// glossary "Role").
type Role int

const (
	RoleInput Role = iota
	RoleOuter
	RoleInner
	RoleOutput
	RoleSyn
	RoleConst
	RoleScratch
	// RoleUpdate and RoleScan bind the tuple being inserted into, or
	// scanned against, a hashindex.Index (spec §4.4: "UPDATE_ROLE",
	// "SCAN_ROLE" in the original hash index).
	RoleUpdate
	RoleScan
	numRoles
)

func (r Role) String() string {
	switch r {
	case RoleInput:
		return "INPUT"
	case RoleOuter:
		return "OUTER"
	case RoleInner:
		return "INNER"
	case RoleOutput:
		return "OUTPUT"
	case RoleSyn:
		return "SYN"
	case RoleConst:
		return "CONST"
	case RoleScratch:
		return "SCRATCH"
	case RoleUpdate:
		return "UPDATE"
	case RoleScan:
		return "SCAN"
	default:
		return "ROLE?"
	}
}

// Context is an indexed array of role bindings, shared by an operator's
// AEval/BEval/HEval programs for the duration of one evaluation.
type Context struct {
	roles [numRoles]Tuple
}

// Bind associates role r with tuple t for the remainder of the current
// evaluation.
func (c *Context) Bind(r Role, t Tuple) { c.roles[r] = t }

// Get returns the tuple currently bound to role r, or nil if unbound.
func (c *Context) Get(r Role) Tuple { return c.roles[r] }
