package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"helios_server/core/domain"
	"helios_server/core/port/out"
	"helios_server/pkg/httputil"

	"github.com/goccy/go-json"
)

// TaskSourceAdapter implements out.TaskSourcePort against the workspace task
// API, grouping flexible tasks into scheduler buckets.
type TaskSourceAdapter struct {
	baseURL    string
	apiKey     string
	teamID     string
	assigneeID string

	emailListID string
	spaceMap    map[string]domain.Bucket
	tagMap      map[string]domain.Bucket

	client *httputil.RetryingClient
}

// TaskSourceConfig holds task source configuration.
type TaskSourceConfig struct {
	BaseURL    string
	APIKey     string
	TeamID     string
	AssigneeID string

	// EmailListID names the list whose tasks are excluded from scheduling
	// (email tasks are handled by the triage pipeline).
	EmailListID string

	// Space ids mapped to buckets when no canonical tag is present.
	SpaceClients   string
	SpaceSystems   string
	SpaceMarketing string
	SpacePersonal  string
}

// NewTaskSourceAdapter creates a new task source adapter.
func NewTaskSourceAdapter(cfg *TaskSourceConfig) *TaskSourceAdapter {
	spaceMap := make(map[string]domain.Bucket)
	if cfg.SpaceClients != "" {
		spaceMap[cfg.SpaceClients] = domain.BucketClientDeepWork
	}
	if cfg.SpaceSystems != "" {
		spaceMap[cfg.SpaceSystems] = domain.BucketSystemsDev
	}
	if cfg.SpaceMarketing != "" {
		spaceMap[cfg.SpaceMarketing] = domain.BucketMarketingCreative
	}
	if cfg.SpacePersonal != "" {
		spaceMap[cfg.SpacePersonal] = domain.BucketPersonal
	}

	return &TaskSourceAdapter{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		teamID:      cfg.TeamID,
		assigneeID:  cfg.AssigneeID,
		emailListID: cfg.EmailListID,
		spaceMap:    spaceMap,
		tagMap: map[string]domain.Bucket{
			"client":    domain.BucketClientDeepWork,
			"systems":   domain.BucketSystemsDev,
			"marketing": domain.BucketMarketingCreative,
			"admin":     domain.BucketAdminProcessing,
			"personal":  domain.BucketPersonal,
		},
		client: httputil.NewRetryingClient(httputil.TaskAPIClient(), nil),
	}
}

// wire shapes of the workspace task API
type taskListResponse struct {
	Tasks []taskPayload `json:"tasks"`
}

type taskPayload struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Status       *nestedStatus `json:"status"`
	Priority     *nestedPrio   `json:"priority"`
	DueDate      interface{}   `json:"due_date"`
	TimeEstimate interface{}   `json:"time_estimate"`
	TimeSpent    interface{}   `json:"time_spent"`
	Tags         []nestedTag   `json:"tags"`
	Space        *nestedRef    `json:"space"`
	List         *nestedRef    `json:"list"`
}

type nestedStatus struct {
	Status string `json:"status"`
}

type nestedPrio struct {
	Priority interface{} `json:"priority"`
}

type nestedTag struct {
	Name string `json:"name"`
}

type nestedRef struct {
	ID string `json:"id"`
}

// FetchGrouped returns open flexible tasks grouped by bucket, each bucket
// sorted by (priority ascending, due ascending).
func (a *TaskSourceAdapter) FetchGrouped(ctx context.Context) (map[domain.Bucket][]domain.FlexTask, error) {
	grouped := make(map[domain.Bucket][]domain.FlexTask, len(domain.AllBuckets))
	for _, b := range domain.AllBuckets {
		grouped[b] = []domain.FlexTask{}
	}

	tasks, err := a.listTeamTasks(ctx)
	if err != nil {
		return nil, err
	}

	for _, tk := range tasks {
		if a.emailListID != "" && tk.List != nil && tk.List.ID == a.emailListID {
			continue
		}

		task := a.flatten(tk)
		if task.RemainingMinutes <= 0 {
			continue
		}
		bucket := a.bucketOf(tk)
		task.Bucket = bucket
		grouped[bucket] = append(grouped[bucket], task)
	}

	for b := range grouped {
		sortTasks(grouped[b])
	}

	return grouped, nil
}

func (a *TaskSourceAdapter) listTeamTasks(ctx context.Context) ([]taskPayload, error) {
	var all []taskPayload
	page := 0

	for {
		url := fmt.Sprintf("%s/team/%s/task?page=%d&subtasks=true&archived=false&order_by=due_date", a.baseURL, a.teamID, page)
		for _, status := range []string{"to do", "in progress", "review"} {
			url += "&statuses[]=" + strings.ReplaceAll(status, " ", "%20")
		}
		if a.assigneeID != "" {
			url += "&assignees[]=" + a.assigneeID
		}

		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", a.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(ctx, req)
		if err != nil {
			return nil, out.NewProviderError("tasks", out.ProviderErrServer, "task list request failed", err, true)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, out.NewProviderError("tasks", out.ProviderErrServer,
				fmt.Sprintf("task list returned %d", resp.StatusCode), nil, resp.StatusCode >= 500)
		}

		var parsed taskListResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("parse task list: %w", err)
		}

		all = append(all, parsed.Tasks...)
		if len(parsed.Tasks) < 100 {
			break
		}
		page++
		if page > 50 {
			break
		}
	}

	return all, nil
}

func (a *TaskSourceAdapter) flatten(tk taskPayload) domain.FlexTask {
	task := domain.FlexTask{
		ID:    tk.ID,
		Title: tk.Name,
	}
	if task.Title == "" {
		task.Title = "(Untitled)"
	}

	estimate, okEst := toMillis(tk.TimeEstimate)
	spent, okSpent := toMillis(tk.TimeSpent)
	if okEst && okSpent {
		remaining := int((estimate - spent) / 60000)
		if remaining < 0 {
			remaining = 0
		}
		task.RemainingMinutes = remaining
	} else {
		// Unparseable tracking fields: fall back to half an hour.
		task.RemainingMinutes = 30
	}

	if tk.Priority != nil {
		if p, ok := toInt(tk.Priority.Priority); ok {
			task.Priority = &p
		}
	}

	if due, ok := toMillis(tk.DueDate); ok && due > 0 {
		t := time.UnixMilli(due).UTC()
		task.Due = &t
	}

	return task
}

func (a *TaskSourceAdapter) bucketOf(tk taskPayload) domain.Bucket {
	for _, tag := range tk.Tags {
		if b, ok := a.tagMap[strings.ToLower(tag.Name)]; ok {
			return b
		}
	}
	if tk.Space != nil {
		if b, ok := a.spaceMap[tk.Space.ID]; ok {
			return b
		}
	}
	return domain.BucketAdminProcessing
}

func sortTasks(tasks []domain.FlexTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		pi, pj := 99, 99
		if tasks[i].Priority != nil {
			pi = *tasks[i].Priority
		}
		if tasks[j].Priority != nil {
			pj = *tasks[j].Priority
		}
		if pi != pj {
			return pi < pj
		}

		var di, dj int64
		di, dj = 1<<62, 1<<62
		if tasks[i].Due != nil {
			di = tasks[i].Due.UnixMilli()
		}
		if tasks[j].Due != nil {
			dj = tasks[j].Due.UnixMilli()
		}
		return di < dj
	})
}

// toMillis coerces the API's string-or-number millisecond fields. An absent
// value is zero; ok is false only when a present value cannot be parsed.
func toMillis(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, true
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func toInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// Ensure interface compliance
var _ out.TaskSourcePort = (*TaskSourceAdapter)(nil)
