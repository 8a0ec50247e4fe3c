package vfs

import (
	"path/filepath"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/pathutil"
)

// changeOp is the kind of physical change being reconciled.
type changeOp int

const (
	opAdd changeOp = iota
	opModify
	opDelete
)

func (o changeOp) String() string {
	switch o {
	case opAdd:
		return "add"
	case opModify:
		return "modify"
	default:
		return "delete"
	}
}

// changeSet is the corrected outcome of one batch.
type changeSet struct {
	added    map[string]bool
	removed  map[string]bool
	modified map[string]bool
}

func newChangeSet() changeSet {
	return changeSet{
		added:    make(map[string]bool),
		removed:  make(map[string]bool),
		modified: make(map[string]bool),
	}
}

func (c changeSet) empty() bool {
	return len(c.added) == 0 && len(c.removed) == 0 && len(c.modified) == 0
}

// ownerMap records, per archive path, the rules that claim a physical
// change at that path, in rule order.
type ownerMap struct {
	order  []string
	owners map[string][]*Rule
	// source marks the archive root standing in for the configuration file.
	source bool
}

// reconcileLocked turns three sets of physical paths into corrected
// archive-relative changes.
func (n *Notifier) reconcileLocked(created, modified, deleted []string) changeSet {
	result := newChangeSet()
	for _, batch := range []struct {
		op    changeOp
		paths []string
	}{
		{opAdd, created},
		{opModify, modified},
		{opDelete, deleted},
	} {
		if len(batch.paths) == 0 {
			continue
		}
		owners := n.ownersOf(batch.paths, batch.op)
		n.correct(batch.op, owners, result)
	}

	if !result.empty() {
		n.logger.Debug().
			Strs("added", sortedKeys(result.added)).
			Strs("removed", sortedKeys(result.removed)).
			Strs("modified", sortedKeys(result.modified)).
			Msg("reconciled change batch")
	}
	return result
}

// ownersOf maps physical paths to the archive paths they surface at. Adds
// and modifications must still be presented by the claiming rule; a deleted
// path can only be checked against the rule's namespace and excludes.
func (n *Notifier) ownersOf(physical []string, op changeOp) ownerMap {
	a := n.archive
	om := ownerMap{owners: make(map[string][]*Rule)}
	seen := make(map[string]bool)

	for _, raw := range physical {
		x := filepath.Clean(raw)
		if seen[x] {
			continue
		}
		seen[x] = true

		if a.parent == nil && a.source != "" && x == filepath.Clean(a.source) {
			if _, ok := om.owners[pathutil.Root]; !ok {
				om.order = append(om.order, pathutil.Root)
				om.owners[pathutil.Root] = nil
			}
			om.source = true
			continue
		}

		for _, r := range a.rules {
			ap, ok := r.archivePathFor(x)
			if !ok {
				continue
			}
			if !n.claims(r, ap, x, op) {
				continue
			}
			if _, ok := om.owners[ap]; !ok {
				om.order = append(om.order, ap)
			}
			om.owners[ap] = append(om.owners[ap], r)
		}
	}
	return om
}

func (n *Notifier) claims(r *Rule, ap, disk string, op changeOp) bool {
	if op != opDelete {
		return n.archive.matches(r, ap)
	}
	return r.kind != KindDirectory || !r.excluded(disk)
}

// correct applies first-rule-wins to each owned path and records the
// notification that survives, if any.
func (n *Notifier) correct(op changeOp, om ownerMap, result changeSet) {
	for _, ap := range om.order {
		owners := om.owners[ap]
		if len(owners) == 0 {
			if om.source && pathutil.IsRoot(ap) {
				switch op {
				case opAdd:
					result.added[ap] = true
				case opModify:
					result.modified[ap] = true
				case opDelete:
					result.removed[ap] = true
				}
			}
			continue
		}

		firstMatching := owners[0].index
		for _, r := range owners[1:] {
			firstMatching = min(firstMatching, r.index)
		}
		existing := n.archive.matchingRules(ap)
		firstExisting := -1
		if len(existing) > 0 {
			firstExisting = existing[0].index
		}

		switch op {
		case opAdd:
			switch {
			case firstExisting < 0:
				n.inconsistent(op, ap, "no rule presents an added path")
			case firstExisting < firstMatching:
				n.obscured(op, ap, existing[0])
			case firstExisting > firstMatching || len(existing) > 1:
				result.modified[ap] = true
			default:
				result.added[ap] = true
			}
		case opDelete:
			switch {
			case firstExisting < 0:
				result.removed[ap] = true
			case firstExisting < firstMatching:
				n.obscured(op, ap, existing[0])
			default:
				result.modified[ap] = true
			}
		case opModify:
			switch {
			case firstExisting < 0:
				n.inconsistent(op, ap, "no rule presents a modified path")
			case firstExisting < firstMatching:
				n.obscured(op, ap, existing[0])
			case firstExisting > firstMatching:
				n.inconsistent(op, ap, "modified path owned by a lower-precedence rule")
			default:
				result.modified[ap] = true
			}
		}
	}
}

func (n *Notifier) obscured(op changeOp, ap string, winner *Rule) {
	n.logger.Trace().
		Str("op", op.String()).
		Str("path", ap).
		Str("winner", winner.String()).
		Msg("change obscured by higher-precedence rule")
}

func (n *Notifier) inconsistent(op changeOp, ap, reason string) {
	n.logger.Error().
		Str("op", op.String()).
		Str("path", ap).
		Msg(reason)
}
