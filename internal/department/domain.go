package department

import "time"

// Department is one node of the single-parent hierarchy. Nodes flagged
// RequireExplicitMembership never receive cascaded grants and stop the
// cascade from passing through to their subtree.
type Department struct {
	ID                        int64
	Name                      string
	ParentID                  *int64
	Path                      []int64 // ancestor ids, root first; computed at load
	IsActive                  bool
	RequireExplicitMembership bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// Grant is an explicit role grant on one department node, the input to the
// cascading walks. Membership records reduce to this shape.
type Grant struct {
	DepartmentID int64
	Roles        []string
}

// VisibleDepartment is one entry of a cascaded visibility result, tagged
// with how the subject reached it.
type VisibleDepartment struct {
	DepartmentID   int64
	Roles          []string
	IsDirectMember bool
	InheritedFrom  *int64
}
