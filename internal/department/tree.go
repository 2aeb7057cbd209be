package department

import (
	"fmt"
	"sort"

	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
)

// Tree is an arena-indexed snapshot of the department hierarchy: records
// keyed by id with parent pointers and a precomputed ancestor path, plus a
// derived child index. Walks are recomputed per call; the tree itself is
// immutable once built.
type Tree struct {
	nodes    map[int64]Department
	children map[int64][]int64
}

// NewTree builds a Tree from department records, computing each node's
// ancestor path. Single-parent shape is enforced at write time, so the
// walks here need no cycle guard.
func NewTree(departments []Department) *Tree {
	t := &Tree{
		nodes:    make(map[int64]Department, len(departments)),
		children: make(map[int64][]int64),
	}
	for _, d := range departments {
		t.nodes[d.ID] = d
		if d.ParentID != nil {
			t.children[*d.ParentID] = append(t.children[*d.ParentID], d.ID)
		}
	}
	for id := range t.children {
		sort.Slice(t.children[id], func(i, j int) bool { return t.children[id][i] < t.children[id][j] })
	}
	for id, d := range t.nodes {
		d.Path = t.ancestorPath(id)
		t.nodes[id] = d
	}
	return t
}

// Get returns one node by id.
func (t *Tree) Get(id int64) (Department, bool) {
	d, ok := t.nodes[id]
	return d, ok
}

// Children returns the direct child ids of a node, sorted.
func (t *Tree) Children(id int64) []int64 {
	return t.children[id]
}

// VisibleDepartments walks breadth-first from each explicit grant through
// descendants. Descent stops at inactive nodes and at nodes requiring
// explicit membership; a flagged node's own direct grant still counts.
// Entries are tagged direct versus inherited-from the nearest granting
// ancestor.
func (t *Tree) VisibleDepartments(grants []Grant) []VisibleDepartment {
	entries := make(map[int64]*VisibleDepartment)
	ensure := func(id int64) *VisibleDepartment {
		if e, ok := entries[id]; ok {
			return e
		}
		e := &VisibleDepartment{DepartmentID: id}
		entries[id] = e
		return e
	}

	// Direct grants first so an explicit membership is never reported as
	// inherited.
	for _, g := range grants {
		d, ok := t.nodes[g.DepartmentID]
		if !ok || !d.IsActive {
			continue
		}
		e := ensure(d.ID)
		e.IsDirectMember = true
		e.Roles = unionRoles(e.Roles, g.Roles)
	}

	for _, g := range grants {
		origin, ok := t.nodes[g.DepartmentID]
		if !ok || !origin.IsActive {
			continue
		}
		queue := append([]int64(nil), t.children[origin.ID]...)
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			node, ok := t.nodes[id]
			if !ok || !node.IsActive || node.RequireExplicitMembership {
				continue
			}
			e := ensure(id)
			if !e.IsDirectMember && e.InheritedFrom == nil {
				originID := origin.ID
				e.InheritedFrom = &originID
			}
			e.Roles = unionRoles(e.Roles, g.Roles)
			queue = append(queue, t.children[id]...)
		}
	}

	result := make([]VisibleDepartment, 0, len(entries))
	for _, e := range entries {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DepartmentID < result[j].DepartmentID })
	return result
}

// EffectiveRoles returns direct ∪ inherited roles for the subject at one
// department. Grants on descendants are never visible upward.
func (t *Tree) EffectiveRoles(grants []Grant, deptID int64) []string {
	target, ok := t.nodes[deptID]
	if !ok || !target.IsActive {
		return nil
	}
	set := make(map[string]struct{})
	for _, g := range grants {
		if g.DepartmentID == deptID || t.cascadeReaches(g.DepartmentID, deptID) {
			for _, role := range g.Roles {
				set[role] = struct{}{}
			}
		}
	}
	roles := make([]string, 0, len(set))
	for role := range set {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// HasAccess reports whether a grant set reaches the department directly or
// via cascade.
func (t *Tree) HasAccess(grants []Grant, deptID int64) bool {
	target, ok := t.nodes[deptID]
	if !ok || !target.IsActive {
		return false
	}
	for _, g := range grants {
		if g.DepartmentID == deptID || t.cascadeReaches(g.DepartmentID, deptID) {
			return true
		}
	}
	return false
}

// CascadedChildren returns the descendants reachable from a department by
// cascade, sorted by id.
func (t *Tree) CascadedChildren(deptID int64) []int64 {
	var out []int64
	queue := append([]int64(nil), t.children[deptID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		node, ok := t.nodes[id]
		if !ok || !node.IsActive || node.RequireExplicitMembership {
			continue
		}
		out = append(out, id)
		queue = append(queue, t.children[id]...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateParent rejects a parent reassignment that would introduce a cycle
// or point at a missing node.
func (t *Tree) ValidateParent(id int64, newParent *int64) error {
	if _, ok := t.nodes[id]; !ok {
		return httpx.ErrNotFound
	}
	if newParent == nil {
		return nil
	}
	if *newParent == id {
		return fmt.Errorf("%w: department cannot be its own parent", httpx.ErrValidation)
	}
	parent, ok := t.nodes[*newParent]
	if !ok {
		return httpx.ErrNotFound
	}
	for _, ancestor := range parent.Path {
		if ancestor == id {
			return fmt.Errorf("%w: reparenting department %d under %d creates a cycle", httpx.ErrValidation, id, *newParent)
		}
	}
	return nil
}

// cascadeReaches reports whether a grant on ancestorID extends to targetID:
// ancestorID must be a proper ancestor, and every node below it on the path
// down to and including the target must be active and open to cascade.
func (t *Tree) cascadeReaches(ancestorID, targetID int64) bool {
	target, ok := t.nodes[targetID]
	if !ok {
		return false
	}
	ancestor, ok := t.nodes[ancestorID]
	if !ok || !ancestor.IsActive {
		return false
	}
	idx := -1
	for i, id := range target.Path {
		if id == ancestorID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	for _, id := range target.Path[idx+1:] {
		node := t.nodes[id]
		if !node.IsActive || node.RequireExplicitMembership {
			return false
		}
	}
	return target.IsActive && !target.RequireExplicitMembership
}

func (t *Tree) ancestorPath(id int64) []int64 {
	var rev []int64
	node := t.nodes[id]
	seen := map[int64]bool{id: true}
	for node.ParentID != nil {
		pid := *node.ParentID
		if seen[pid] {
			break
		}
		seen[pid] = true
		rev = append(rev, pid)
		parent, ok := t.nodes[pid]
		if !ok {
			break
		}
		node = parent
	}
	path := make([]int64, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}

func unionRoles(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, r := range a {
		set[r] = struct{}{}
	}
	for _, r := range b {
		set[r] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
