package process

import (
	"sort"
	"time"

	"github.com/biotracer/agent/internal/types"
)

// Node is one entry in the process tree. Parent and children are referenced by pid; the Tree
// map owns every node.
type Node struct {
	Pid        types.Pid
	ParentPid  types.Pid
	Properties *Properties
	Children   []types.Pid
	StartTime  time.Time
}

// Tree is an arena of nodes keyed by pid.
type Tree map[types.Pid]*Node

// BuildTree rebuilds the ownership tree from a snapshot. Parent links reported by the OS are
// trusted to be acyclic.
func BuildTree(snapshot *Snapshot) Tree {
	tree := make(Tree, len(snapshot.Processes))

	for pid, properties := range snapshot.Processes {
		tree[pid] = &Node{
			Pid:        pid,
			ParentPid:  properties.ParentPid,
			Properties: properties,
			Children:   make([]types.Pid, 0),
			StartTime:  properties.CreateTime,
		}
	}

	// Ascending order keeps children lists stable between polls.
	for _, pid := range snapshot.Pids() {
		node := tree[pid]
		if node.ParentPid == pid {
			continue
		}
		if parent, found := tree[node.ParentPid]; found {
			parent.Children = append(parent.Children, pid)
		}
	}

	return tree
}

func (t Tree) Parent(pid types.Pid) (*Node, bool) {
	node, found := t[pid]
	if !found {
		return nil, false
	}
	parent, found := t[node.ParentPid]
	return parent, found
}

// Roots returns pids whose parent is absent from the tree, ascending.
func (t Tree) Roots() []types.Pid {
	roots := make([]types.Pid, 0)
	for pid, node := range t {
		if _, found := t[node.ParentPid]; !found || node.ParentPid == pid {
			roots = append(roots, pid)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots
}

func (t Tree) Children(pid types.Pid) []types.Pid {
	node, found := t[pid]
	if !found {
		return nil
	}
	return node.Children
}

// Matching returns the pids, ascending, whose node satisfies match.
func (t Tree) Matching(match func(node *Node) bool) []types.Pid {
	pids := make([]types.Pid, 0)
	for pid, node := range t {
		if match(node) {
			pids = append(pids, pid)
		}
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// RepresentativeAncestors collapses a set of matching pids into one representative per
// process group. Each pid climbs through parents that are themselves in the matching set.
// At the first non-matching parent the walk stops: with forceAncestorMatch the last matching
// pid is the representative, otherwise that non-matching parent is. Pid 0 is never a parent.
// Results are deduplicated in encounter order.
func (t Tree) RepresentativeAncestors(matching []types.Pid, forceAncestorMatch bool) []types.Pid {
	valid := make(map[types.Pid]struct{}, len(matching))
	for _, pid := range matching {
		valid[pid] = struct{}{}
	}

	ordered := append([]types.Pid(nil), matching...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	result := make([]types.Pid, 0)
	chosen := make(map[types.Pid]struct{})

	for _, pid := range ordered {
		current := pid
		representative := pid

		// Bounded by the number of matching pids, since only those are climbed through.
		for steps := 0; steps <= len(valid); steps++ {
			node, found := t[current]
			if !found || node.ParentPid == 0 || node.ParentPid == current {
				break
			}

			parent := node.ParentPid
			if _, isValid := valid[parent]; !isValid {
				if !forceAncestorMatch {
					representative = parent
				}
				break
			}

			representative = parent
			current = parent
		}

		if _, found := chosen[representative]; !found {
			chosen[representative] = struct{}{}
			result = append(result, representative)
		}
	}

	return result
}
