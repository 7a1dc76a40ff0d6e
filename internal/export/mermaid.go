package export

import (
	"fmt"
	"strings"
)

var stageOrder = []string{"eager", "lazy", "delayed"}

// GenerateMermaid produces a Mermaid graph TD diagram of a report. Plugins
// are grouped by stage; stages are chained in load order, and each plugin
// node is styled by its final state.
func GenerateMermaid(report *RunReport) string {
	byStage := make(map[string][]PluginExport)
	for _, p := range report.Plugins {
		byStage[p.Stage] = append(byStage[p.Stage], p)
	}

	var sb strings.Builder
	sb.WriteString("graph TD\n")

	var prev string
	for _, stage := range stageOrder {
		id := "S_" + stage
		sb.WriteString(fmt.Sprintf("  subgraph %s[\"%s\"]\n", id, stage))
		for i, p := range byStage[stage] {
			sb.WriteString(fmt.Sprintf("    %s_%d[\"%s<br/>%s\"]:::%s\n", id, i, label(p.Name), p.State, className(p.State)))
		}
		sb.WriteString("  end\n")
		if prev != "" {
			sb.WriteString(fmt.Sprintf("  %s --> %s\n", prev, id))
		}
		prev = id
	}

	sb.WriteString("  classDef loaded fill:#d4edda\n")
	sb.WriteString("  classDef failed fill:#f8d7da\n")
	sb.WriteString("  classDef inactive fill:#e2e3e5\n")
	sb.WriteString("  classDef pending fill:#fff3cd\n")
	return sb.String()
}

func className(state string) string {
	switch state {
	case "loaded":
		return "loaded"
	case "load-failed":
		return "failed"
	case "inactive":
		return "inactive"
	default:
		return "pending"
	}
}

// label truncates long names and escapes quotes for Mermaid.
func label(name string) string {
	if len(name) > 40 {
		name = name[:40]
	}
	return strings.ReplaceAll(name, `"`, "#quot;")
}
