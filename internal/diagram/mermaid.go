package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/flowgraph/pkg/schema"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		fmt.Fprintf(&b, "    %s %s%s %s\n",
			mermaidSafeID(edge.From), mermaidArrow(edge), label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef stopped fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef invalid stroke:#d9534f,stroke-width:3px\n")

	for _, node := range model.Nodes {
		if node.Status != nil {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), node.Status.Status)
		}
		if node.Issues > 0 {
			fmt.Fprintf(&b, "    class %s invalid\n", mermaidSafeID(node.ID))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape of its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)

	switch node.Kind {
	case schema.NodeKindCondition:
		return fmt.Sprintf("%s{%q}", id, label)
	case schema.NodeKindLoop:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case schema.NodeKindSubprocess:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case schema.NodeKindStart, schema.NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidArrow draws active edges thick and back edges dotted.
func mermaidArrow(edge Edge) string {
	switch {
	case edge.Status == schema.EdgeStatusActive:
		return "==>"
	case edge.Back:
		return "-.->"
	default:
		return "-->"
	}
}

// mermaidSafeID prefixes ids so reserved words such as "end" stay usable and
// replaces characters Mermaid rejects in identifiers.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return "n_" + r.Replace(id)
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
