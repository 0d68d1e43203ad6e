package core

import (
	"sort"
)

// OrderByResource clusters tasks that target the same document so that each
// document is opened once. Clusters follow the first-seen order of their
// resource path; inside a cluster tasks keep start-time order. The sort is
// stable, so an already ordered list is returned unchanged.
func OrderByResource(tasks []TaskRecord) []TaskRecord {
	rank := make(map[string]int)
	for _, t := range tasks {
		key := t.ResourceKey()
		if _, ok := rank[key]; !ok {
			rank[key] = len(rank)
		}
	}
	ordered := make([]TaskRecord, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := rank[ordered[i].ResourceKey()], rank[ordered[j].ResourceKey()]
		if ri != rj {
			return ri < rj
		}
		return ordered[i].Start < ordered[j].Start
	})
	return ordered
}

// TaskList is the set of active tasks loaded from the task master, in file
// order. Its methods return new lists and never modify the receiver.
type TaskList []TaskRecord

// SortedByStartThenGroup is the whole-schedule view.
func (l TaskList) SortedByStartThenGroup() TaskList {
	sorted := l.clone()
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Group < sorted[j].Group
	})
	return sorted
}

// FilteredByGroup keeps file order.
func (l TaskList) FilteredByGroup(group string) TaskList {
	var out TaskList
	for _, t := range l {
		if t.Group == group {
			out = append(out, t)
		}
	}
	return out
}

// OptimizedByGroup filters to one group and clusters it by resource.
func (l TaskList) OptimizedByGroup(group string) TaskList {
	return TaskList(OrderByResource(l.FilteredByGroup(group)))
}

// ByStartTime returns the tasks starting exactly at start.
func (l TaskList) ByStartTime(start TimeOfDay) TaskList {
	var out TaskList
	for _, t := range l {
		if t.Start == start {
			out = append(out, t)
		}
	}
	return out
}

// FromStartTime returns tasks starting at or after start, sorted by start.
func (l TaskList) FromStartTime(start TimeOfDay) TaskList {
	var out TaskList
	for _, t := range l.SortedByStartThenGroup() {
		if t.Start >= start {
			out = append(out, t)
		}
	}
	return out
}

// FromTask returns the task with the given ID and every later task of the
// same group in whole-schedule order.
func (l TaskList) FromTask(id string) (TaskList, error) {
	sorted := l.SortedByStartThenGroup()
	for i, t := range sorted {
		if t.ID != id {
			continue
		}
		var out TaskList
		for _, later := range sorted[i:] {
			if later.Group == t.Group {
				out = append(out, later)
			}
		}
		return out, nil
	}
	return nil, ErrTaskNotFound
}

// Find looks up a task by ID.
func (l TaskList) Find(id string) (TaskRecord, error) {
	for _, t := range l {
		if t.ID == id {
			return t, nil
		}
	}
	return TaskRecord{}, ErrTaskNotFound
}

// Groups lists distinct group names in first-seen order.
func (l TaskList) Groups() []string {
	seen := make(map[string]struct{})
	var groups []string
	for _, t := range l {
		if _, ok := seen[t.Group]; ok {
			continue
		}
		seen[t.Group] = struct{}{}
		groups = append(groups, t.Group)
	}
	return groups
}

// StartTimes lists distinct start times in ascending order.
func (l TaskList) StartTimes() []TimeOfDay {
	seen := make(map[TimeOfDay]struct{})
	var starts []TimeOfDay
	for _, t := range l {
		if _, ok := seen[t.Start]; ok {
			continue
		}
		seen[t.Start] = struct{}{}
		starts = append(starts, t.Start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts
}

// EarliestStart returns the first start time of a group.
func (l TaskList) EarliestStart(group string) (TimeOfDay, bool) {
	var (
		earliest TimeOfDay
		found    bool
	)
	for _, t := range l {
		if t.Group != group {
			continue
		}
		if !found || t.Start < earliest {
			earliest = t.Start
			found = true
		}
	}
	return earliest, found
}

func (l TaskList) clone() TaskList {
	out := make(TaskList, len(l))
	copy(out, l)
	return out
}

// effectiveCloseAfter defers closing when the next task reuses the document.
// The record itself is left untouched.
func effectiveCloseAfter(tasks []TaskRecord, i int) bool {
	if !tasks[i].CloseAfter {
		return false
	}
	if i+1 < len(tasks) && tasks[i+1].ResourceKey() == tasks[i].ResourceKey() {
		return false
	}
	return true
}
