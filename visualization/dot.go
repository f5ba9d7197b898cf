// Package visualization renders state machine definitions as Graphviz DOT.
package visualization

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/anggasct/logicdriver/pkg/core"
	"github.com/anggasct/logicdriver/pkg/definition"
)

// DOTGenerator generates Graphviz DOT format representations of state machines
type DOTGenerator struct {
	def     *definition.Definition
	options DOTOptions
	active  map[string]bool
}

// DOTOptions configures the DOT generation
type DOTOptions struct {
	ShowTransitionNames bool
	ShowPriorities      bool
	RankDirection       string // "TB", "LR", "BT", "RL"
	NodeShape           string
	ConduitShape        string
	ReferenceStyle      string
}

// DefaultDOTOptions returns sensible default options for DOT generation
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{
		ShowTransitionNames: true,
		ShowPriorities:      true,
		RankDirection:       "TB",
		NodeShape:           "box",
		ConduitShape:        "diamond",
		ReferenceStyle:      "dashed",
	}
}

// NewDOTGenerator creates a new DOT generator for the given definition
func NewDOTGenerator(def *definition.Definition, options ...DOTOptions) *DOTGenerator {
	opts := DefaultDOTOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	return &DOTGenerator{def: def, options: opts, active: make(map[string]bool)}
}

// HighlightActive marks the active states of inst. Call it again to
// refresh.
func (g *DOTGenerator) HighlightActive(inst *core.Instance) *DOTGenerator {
	clear(g.active)
	if inst == nil {
		return g
	}
	for _, s := range inst.GetAllActiveStates() {
		g.active[s.QualifiedName()] = true
	}
	return g
}

// Generate creates a DOT representation of the state machine
func (g *DOTGenerator) Generate() (string, error) {
	if g.def == nil {
		return "", fmt.Errorf("no definition to render")
	}
	if err := g.def.Resolve(); err != nil {
		return "", fmt.Errorf("failed to resolve definition: %w", err)
	}

	var dot strings.Builder
	fmt.Fprintf(&dot, "digraph %q {\n", g.def.Name)
	fmt.Fprintf(&dot, "  rankdir=%s;\n", g.options.RankDirection)
	fmt.Fprintf(&dot, "  compound=true;\n")
	fmt.Fprintf(&dot, "  node [shape=%s];\n", g.options.NodeShape)
	dot.WriteString("  edge [fontsize=10];\n\n")

	g.generateScope(&dot, nil, g.def.States, g.def.Transitions, "  ")

	dot.WriteString("}\n")
	return dot.String(), nil
}

func (g *DOTGenerator) generateScope(dot *strings.Builder, path []string, states []*definition.State,
	transitions []*definition.Transition, indent string) {
	for _, s := range states {
		id := qualify(path, s.Name)
		if s.KindOrDefault() == definition.KindStateMachine {
			g.generateCluster(dot, path, s, indent)
			continue
		}
		g.generateStateNode(dot, id, s, indent)
	}
	for _, t := range transitions {
		g.generateTransition(dot, path, states, t, indent)
	}
}

func (g *DOTGenerator) generateCluster(dot *strings.Builder, path []string, s *definition.State, indent string) {
	id := qualify(path, s.Name)
	inner := append(append([]string(nil), path...), s.Name)

	fmt.Fprintf(dot, "%ssubgraph %q {\n", indent, "cluster_"+id)
	fmt.Fprintf(dot, "%s  label=%q;\n", indent, s.Name)
	style, color := "rounded", "black"
	if s.Initial {
		color = "darkgreen"
	}
	if g.active[id] {
		style, color = "rounded,bold", "orange"
	}
	fmt.Fprintf(dot, "%s  style=%q; color=%s;\n", indent, style, color)
	// The anchor gives edges into and out of the cluster a node to attach to.
	fmt.Fprintf(dot, "%s  %q [shape=point style=invis];\n", indent, anchor(id))
	g.generateScope(dot, inner, s.States, s.Transitions, indent+"  ")
	fmt.Fprintf(dot, "%s}\n", indent)
}

// generateStateNode generates a DOT node for a single state
func (g *DOTGenerator) generateStateNode(dot *strings.Builder, id string, s *definition.State, indent string) {
	shape := g.options.NodeShape
	style := "filled"
	fillColor := "lightblue"
	label := s.Name

	switch s.KindOrDefault() {
	case definition.KindConduit:
		shape = g.options.ConduitShape
		fillColor = "lightyellow"
	case definition.KindReference:
		style = "filled," + g.options.ReferenceStyle
		fillColor = "white"
		label = fmt.Sprintf("%s\\n[%s]", s.Name, s.Reference)
	}

	if s.Initial {
		fillColor = "lightgreen"
		label += "\\n(initial)"
	}
	if g.active[id] {
		fillColor = "orange"
		style += ",bold"
	}

	// Labels keep their \n escapes for DOT.
	fmt.Fprintf(dot, "%s%q [shape=%s style=%q fillcolor=%s label=\"%s\"];\n",
		indent, id, shape, style, fillColor, strings.ReplaceAll(label, `"`, `\"`))
}

// generateTransition generates a DOT edge. Edges touching a nested machine
// attach to its anchor and clip at the cluster border.
func (g *DOTGenerator) generateTransition(dot *strings.Builder, path []string, states []*definition.State,
	t *definition.Transition, indent string) {
	from, to := qualify(path, t.From), qualify(path, t.To)
	var attrs []string

	src, dst := from, to
	if isMachine(states, t.From) {
		src = anchor(from)
		attrs = append(attrs, fmt.Sprintf("ltail=%q", "cluster_"+from))
	}
	if isMachine(states, t.To) {
		dst = anchor(to)
		attrs = append(attrs, fmt.Sprintf("lhead=%q", "cluster_"+to))
	}

	var label []string
	if g.options.ShowTransitionNames && t.Name != "" && t.Name != t.From+"->"+t.To {
		label = append(label, t.Name)
	}
	if g.options.ShowPriorities && t.Priority != 0 {
		label = append(label, fmt.Sprintf("p=%d", t.Priority))
	}
	if len(label) > 0 {
		attrs = append(attrs, fmt.Sprintf("label=%q", strings.Join(label, " ")))
	}
	if t.RunParallel {
		attrs = append(attrs, "style=dashed")
	}
	switch t.ConditionOrDefault() {
	case definition.ConditionAlwaysTrue:
		attrs = append(attrs, "color=darkgreen")
	case definition.ConditionAlwaysFalse:
		attrs = append(attrs, "color=gray")
	}

	if len(attrs) == 0 {
		fmt.Fprintf(dot, "%s%q -> %q;\n", indent, src, dst)
		return
	}
	fmt.Fprintf(dot, "%s%q -> %q [%s];\n", indent, src, dst, strings.Join(attrs, " "))
}

func isMachine(states []*definition.State, name string) bool {
	for _, s := range states {
		if s.Name == name {
			return s.KindOrDefault() == definition.KindStateMachine
		}
	}
	return false
}

func anchor(id string) string { return id + ".__anchor" }

func qualify(path []string, name string) string {
	if len(path) == 0 {
		return name
	}
	return strings.Join(path, ".") + "." + name
}

// GenerateToFile writes the DOT representation to a file
func (g *DOTGenerator) GenerateToFile(filename string) error {
	content, err := g.Generate()
	if err != nil {
		return err
	}
	return os.WriteFile(filename, []byte(content), 0644)
}

// SVGGenerator generates SVG representations by calling Graphviz
type SVGGenerator struct {
	dotGenerator *DOTGenerator
}

// NewSVGGenerator creates a new SVG generator
func NewSVGGenerator(def *definition.Definition, options ...DOTOptions) *SVGGenerator {
	return &SVGGenerator{dotGenerator: NewDOTGenerator(def, options...)}
}

// Generate creates an SVG representation of the state machine
func (g *SVGGenerator) Generate() (string, error) {
	dotContent, err := g.dotGenerator.Generate()
	if err != nil {
		return "", err
	}

	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = strings.NewReader(dotContent)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to execute dot command: %w (make sure Graphviz is installed)", err)
	}
	return out.String(), nil
}

// GenerateSVG creates an SVG representation of the state machine
func (g *DOTGenerator) GenerateSVG() (string, error) {
	svgGen := &SVGGenerator{dotGenerator: g}
	return svgGen.Generate()
}
