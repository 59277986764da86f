// Package kind enumerates the hierarchy kinds served by the tree engine.
// Every node belongs to exactly one kind; kinds never share nodes, so a
// parent and child always come from the same tree.
package kind

import "strings"

type Kind string

const (
	Department Kind = "department"
	Job        Kind = "job"
	Team       Kind = "team"
	Project    Kind = "project"
)

var all = []Kind{Department, Job, Team, Project}

func All() []Kind {
	out := make([]Kind, len(all))
	copy(out, all)
	return out
}

func Parse(v string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(v)))
	for _, known := range all {
		if k == known {
			return k, true
		}
	}
	return "", false
}

func (k Kind) String() string { return string(k) }
