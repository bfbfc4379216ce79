package monitoring

import (
	"fmt"
	"sort"
	"strings"

	"stem-splitter/core/models"
	"stem-splitter/core/workspace"
)

// WorkspaceStats is implemented by the workspace manager
type WorkspaceStats interface {
	Stats() workspace.Stats
}

// MetricsExporter exports job and workspace metrics in Prometheus text format
type MetricsExporter struct {
	tracker    *JobTracker
	workspaces WorkspaceStats
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter(tracker *JobTracker, workspaces WorkspaceStats) *MetricsExporter {
	return &MetricsExporter{
		tracker:    tracker,
		workspaces: workspaces,
	}
}

// GetPrometheusMetrics returns metrics in Prometheus format
func (me *MetricsExporter) GetPrometheusMetrics() string {
	jobs := me.tracker.Snapshot()

	byStatus := make(map[string]int)
	byStage := make(map[string]int)
	byMode := make(map[string]int)
	for _, job := range jobs {
		byStatus[string(job.Status)]++
		byMode[string(job.Mode)]++
		if job.Status == models.JobStatusFailed {
			byStage[string(job.FailedStage)]++
		}
	}

	var b strings.Builder

	b.WriteString("# HELP stems_jobs Tracked jobs by status\n")
	b.WriteString("# TYPE stems_jobs gauge\n")
	writeLabeled(&b, "stems_jobs", "status", byStatus)

	b.WriteString("# HELP stems_jobs_by_mode Tracked jobs by delivery mode\n")
	b.WriteString("# TYPE stems_jobs_by_mode gauge\n")
	writeLabeled(&b, "stems_jobs_by_mode", "mode", byMode)

	b.WriteString("# HELP stems_jobs_failed Failed jobs by pipeline stage\n")
	b.WriteString("# TYPE stems_jobs_failed gauge\n")
	writeLabeled(&b, "stems_jobs_failed", "stage", byStage)

	stats := me.workspaces.Stats()
	b.WriteString("# HELP stems_workspaces_acquired_total Workspaces created\n")
	b.WriteString("# TYPE stems_workspaces_acquired_total counter\n")
	fmt.Fprintf(&b, "stems_workspaces_acquired_total %d\n", stats.Acquired)
	b.WriteString("# HELP stems_workspaces_released_total Workspaces removed\n")
	b.WriteString("# TYPE stems_workspaces_released_total counter\n")
	fmt.Fprintf(&b, "stems_workspaces_released_total %d\n", stats.Released)

	return b.String()
}

func writeLabeled(b *strings.Builder, name, label string, values map[string]int) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}
