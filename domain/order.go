package domain

import "sort"

// NextOrder picks the order index for a record entering the given lane:
// one past the highest order currently observed there, or 0 for an empty
// lane. It only ever looks at the target lane and mutates nothing.
func NextOrder(lane Status, tasks []Task) int {
	max := -1
	for _, t := range tasks {
		if t.Status != lane {
			continue
		}
		if t.Order > max {
			max = t.Order
		}
	}
	return max + 1
}

// SortByOrder orders tasks ascending by order index, id as tie-break so a
// transiently duplicated index still yields a stable ordering.
func SortByOrder(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// ByStatus returns the lane's tasks sorted ascending by order index.
func ByStatus(lane Status, tasks []Task) []Task {
	out := []Task{}
	for _, t := range tasks {
		if t.Status == lane {
			out = append(out, t)
		}
	}
	SortByOrder(out)
	return out
}

// DistinctTags collects the distinct tags across all tasks, unique by id,
// in first-seen order.
func DistinctTags(tasks []Task) []Tag {
	seen := map[string]struct{}{}
	tags := []Tag{}
	for _, t := range tasks {
		for _, tag := range t.Tags {
			if _, ok := seen[tag.ID]; ok {
				continue
			}
			seen[tag.ID] = struct{}{}
			tags = append(tags, tag)
		}
	}
	return tags
}
