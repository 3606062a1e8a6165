package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/Oudwins/somedaex/internals/tasks"
	"github.com/Oudwins/somedaex/sdk"
)

func PrintTypes(w io.Writer, registry *tasks.Registry) {
	for _, category := range registry.Categories() {
		fmt.Fprintf(w, "%s\n", category.Label)
		for _, t := range category.Types {
			fmt.Fprintf(w, "  %-12s %s\n", t.ID, t.Label)
		}
	}
}

func PrintTasks(w io.Writer, infos []sdk.TaskInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	for _, info := range infos {
		PrintTask(w, info)
	}
}

func PrintTask(w io.Writer, info sdk.TaskInfo) {
	source := "-"
	if info.Source != nil {
		source = fmt.Sprint(*info.Source)
	}
	fmt.Fprintf(w, "%d\t%s\tstatus=%s\tsource=%s%s\n", info.ID, info.Type, info.Status, source, formatConfig(info.Config))
}

func PrintCreated(w io.Writer, created *sdk.CreatedTask) {
	fmt.Fprintf(w, "task: %d\ntype: %s\n", created.ID, created.Type)
}

func PrintEvent(w io.Writer, event sdk.Event) {
	value := string(event.Value)
	if event.Event == sdk.EventSchema && !event.IsNull() {
		value = fmt.Sprintf("<%d bytes>", len(event.Value))
	}
	fmt.Fprintf(w, "%d\t%s\t%s\n", event.Task, event.Event, value)
}

func formatConfig(config map[string]any) string {
	if len(config) == 0 {
		return ""
	}
	var b strings.Builder
	for _, key := range slices.Sorted(maps.Keys(config)) {
		encoded, err := json.Marshal(config[key])
		if err != nil {
			encoded = []byte(fmt.Sprint(config[key]))
		}
		fmt.Fprintf(&b, "\t%s=%s", key, encoded)
	}
	return b.String()
}
