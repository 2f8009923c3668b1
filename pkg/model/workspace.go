package model

import "sort"

// WorkspaceType is the level of a workspace in an event's organisation.
type WorkspaceType string

const (
	WorkspaceRoot       WorkspaceType = "root"
	WorkspaceDepartment WorkspaceType = "department"
	WorkspaceCommittee  WorkspaceType = "committee"
	WorkspaceTeam       WorkspaceType = "team"
)

const (
	WorkspaceActive   = "active"
	WorkspaceArchived = "archived"
)

type Workspace struct {
	ID        string        `json:"id"`
	EventID   string        `json:"event_id"`
	ParentID  *string       `json:"parent_id"`
	Name      string        `json:"name"`
	Type      WorkspaceType `json:"workspace_type"`
	Status    string        `json:"status"`
	OwnerID   string        `json:"owner_id,omitempty"`
	CreatedAt Timestamp     `json:"created_at"`
}

func (w Workspace) Key() string { return w.ID }

// WorkspaceNode is a workspace with its children, for tree views.
type WorkspaceNode struct {
	Workspace
	Depth    int
	Children []*WorkspaceNode
}

// BuildTree arranges flat workspace rows into a forest. Children are sorted
// by name. A row whose parent is missing, or whose parent chain loops back
// to itself, becomes a root.
func BuildTree(rows []Workspace) []*WorkspaceNode {
	nodes := make(map[string]*WorkspaceNode, len(rows))
	for _, w := range rows {
		nodes[w.ID] = &WorkspaceNode{Workspace: w}
	}

	var roots []*WorkspaceNode
	for _, w := range rows {
		n := nodes[w.ID]
		parent, ok := parentOf(w, nodes)
		if !ok || createsCycle(w.ID, nodes) {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}

	sortNodes(roots)
	for _, r := range roots {
		setDepth(r, 0)
	}
	return roots
}

func parentOf(w Workspace, nodes map[string]*WorkspaceNode) (*WorkspaceNode, bool) {
	if w.ParentID == nil || *w.ParentID == "" || *w.ParentID == w.ID {
		return nil, false
	}
	p, ok := nodes[*w.ParentID]
	return p, ok
}

// createsCycle walks up from id and reports whether it comes back to id.
func createsCycle(id string, nodes map[string]*WorkspaceNode) bool {
	seen := map[string]bool{id: true}
	cur := nodes[id]
	for {
		parent, ok := parentOf(cur.Workspace, nodes)
		if !ok {
			return false
		}
		if seen[parent.ID] {
			return parent.ID == id
		}
		seen[parent.ID] = true
		cur = parent
	}
}

func sortNodes(nodes []*WorkspaceNode) {
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

func setDepth(n *WorkspaceNode, depth int) {
	n.Depth = depth
	for _, c := range n.Children {
		setDepth(c, depth+1)
	}
}

// Walk visits n and its descendants depth-first.
func (n *WorkspaceNode) Walk(fn func(*WorkspaceNode)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}
