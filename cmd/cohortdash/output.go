package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"cohortdash/internal/cohort"
	"cohortdash/internal/domain"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printSyncResult(s cohort.Session, out cohort.Outcome) error {
	if viper.GetBool("json") {
		res := map[string]any{
			"cohort":       s.Cohort.Slug,
			"program":      s.Cohort.SelectedProgramSlug,
			"published":    s.Board.Published(),
			"records":      len(s.Board.Records()),
			"capabilities": s.Capabilities,
			"unsynced":     s.UnsyncedTasks,
			"redirect":     out.Redirect,
			"notification": out.Notification,
		}
		if out.Err != nil {
			res["error"] = out.Err.Error()
		}
		return printJSON(res)
	}
	tw := newTable()
	tw.AppendRow(table.Row{"Cohort", s.Cohort.Slug})
	tw.AppendRow(table.Row{"Program", s.Cohort.SelectedProgramSlug})
	tw.AppendRow(table.Row{"Records", len(s.Board.Records())})
	tw.AppendRow(table.Row{"Unsynced", len(s.UnsyncedTasks)})
	if out.Redirect != "" {
		tw.AppendRow(table.Row{"Redirect", out.Redirect})
	}
	if n := out.Notification; n != nil {
		tw.AppendRow(table.Row{"Notification", fmt.Sprintf("[%s] %s %s", n.Status, n.Title, n.Description)})
	}
	tw.Render()
	return out.Err
}

func printRecords(records []domain.AssignmentRecord) error {
	if viper.GetBool("json") {
		return printJSON(records)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Label", "Slots", "Tasks", "Pending", "Days"})
	for _, r := range records {
		days := ""
		if r.DurationInDays != nil {
			days = fmt.Sprint(*r.DurationInDays)
		}
		tw.AppendRow(table.Row{r.ID, r.Label, len(r.Modules), len(r.FilteredModules), len(r.FilteredModulesByPending), days})
	}
	tw.Render()
	return nil
}

func printRecord(r domain.AssignmentRecord) error {
	if viper.GetBool("json") {
		return printJSON(r)
	}
	fmt.Printf("%d %s\n", r.ID, r.Label)
	if r.Description != "" {
		fmt.Println(r.Description)
	}
	return printSlots(r.Modules)
}

func printSlots(slots []domain.Slot) error {
	if viper.GetBool("json") {
		return printJSON(slots)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Slug", "Kind", "Type", "Status", "Mandatory", "Days"})
	for _, s := range slots {
		status, mandatory, days := "-", "", ""
		if s.Task != nil {
			status = string(s.Task.Status)
			mandatory = fmt.Sprint(s.Task.Mandatory)
			days = fmt.Sprint(s.Task.DaysDiff)
		}
		tw.AppendRow(table.Row{s.Slug, s.Kind, s.TaskType, status, mandatory, days})
	}
	tw.Render()
	return nil
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return printJSON(tasks)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Slug", "Title", "Status", "Type"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.AssociatedSlug, t.Title, t.Status, t.Type})
	}
	tw.Render()
	return nil
}

func printEvents(items []domain.SyncEvent) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "TS", "Type", "Cohort", "Run", "Payload"})
	for _, e := range items {
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.CohortSlug, e.RunID, e.Payload})
	}
	tw.Render()
	return nil
}
