package importer

import (
	"context"
	"fmt"
	"net/url"

	"datalink-sync/internal/model"
)

const tasksMaxResults = 100

// GoogleTasks imports a task list as to-do entries.
type GoogleTasks struct {
	g *Google
}

func (g *Google) Tasks() *GoogleTasks { return &GoogleTasks{g: g} }

func (t *GoogleTasks) Name() string { return "tasks" }
func (t *GoogleTasks) Kind() Kind   { return KindLists }

// TaskList is one of the user's task lists.
type TaskList struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type taskLists struct {
	Items []TaskList `json:"items"`
}

type taskItems struct {
	Items []struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Status string `json:"status"`
	} `json:"items"`
}

// Lists returns the user's task lists.
func (t *GoogleTasks) Lists(ctx context.Context) ([]TaskList, error) {
	var resp taskLists
	if err := t.g.getJSON(ctx, t.Name(), t.g.endpoints.Tasks, "/users/@me/lists", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, &ImportError{Source: t.Name(), Err: ErrNoRecords}
	}
	return resp.Items, nil
}

// Fetch reads the tasks of c.TaskList, or of the first list when empty.
func (t *GoogleTasks) Fetch(ctx context.Context, c Criteria) ([]Record, error) {
	listID := c.TaskList
	if listID == "" {
		lists, err := t.Lists(ctx)
		if err != nil {
			return nil, err
		}
		listID = lists[0].ID
	}

	q := url.Values{}
	q.Set("maxResults", fmt.Sprint(tasksMaxResults))

	var resp taskItems
	path := "/lists/" + url.PathEscape(listID) + "/tasks"
	if err := t.g.getJSON(ctx, t.Name(), t.g.endpoints.Tasks, path, q, &resp); err != nil {
		return nil, err
	}

	titled := resp.Items[:0]
	for _, it := range resp.Items {
		if it.Title != "" {
			titled = append(titled, it)
		}
	}
	if len(titled) == 0 {
		return nil, &ImportError{Source: t.Name(), Err: ErrNoRecords}
	}

	records := make([]Record, 0, len(titled))
	for i, it := range titled {
		priority := TaskPriority(i, len(titled))
		completed := it.Status == "completed"
		subtitle := fmt.Sprintf("Priority: %d", priority)
		if completed {
			subtitle += " • Completed"
		}
		records = append(records, Record{
			ID:       it.ID,
			Title:    it.Title,
			Subtitle: subtitle,
			Selected: !completed,
			ListEntry: &model.ListEntry{
				Entry:    model.Truncate(it.Title, model.EntryTextMax),
				Priority: priority,
			},
		})
	}
	return records, nil
}

// TaskPriority maps a task's position in a list of total tasks to 1..5.
// Short lists count up from 1; longer ones are spread evenly over the
// five levels.
func TaskPriority(index, total int) int {
	if total <= 5 {
		return index + 1
	}
	return min(index*5/total+1, 5)
}
