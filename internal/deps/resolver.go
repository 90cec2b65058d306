// Package deps computes stop and start orders for groups of interrelated containers.
//
// Each container provides its own name and, when it belongs to a compose project, its service name.
// It needs the services listed in its compose depends_on label and the targets of its legacy links.
// Resolve orders the group so that dependencies start before their dependents and stop after them.
// Containers without relationships keep their declaration order.
package deps

import (
	"strings"

	"github.com/ceymard/chest/internal/container"
)

// Compose labels read by NewNode.
const (
	LabelComposeService = "com.docker.compose.service"
	LabelDependsOn      = "com.docker.compose.depends_on"
)

// Node is one container of a group.
type Node struct {
	ID         string
	Name       string
	Provides   []string
	Needs      []string
	WasRunning bool
	// Closure is the transitive set of names this node needs, filled by Resolve.
	Closure []string
}

// NewNode builds the dependency node of an inspected container.
func NewNode(info container.Info) Node {
	n := Node{
		ID:         info.ID,
		Name:       info.Name,
		WasRunning: info.Running,
	}

	n.Provides = appendUnique(n.Provides, info.Name)
	if svc := info.Labels[LabelComposeService]; svc != "" {
		n.Provides = appendUnique(n.Provides, svc)
	}

	for _, name := range ParseDependsOn(info.Labels[LabelDependsOn]) {
		if !n.provides(name) {
			n.Needs = appendUnique(n.Needs, name)
		}
	}
	for _, name := range info.Links {
		if !n.provides(name) {
			n.Needs = appendUnique(n.Needs, name)
		}
	}

	return n
}

// ParseDependsOn extracts service names from a compose depends_on label
// ("db:service_started:true,cache:service_healthy:false").
func ParseDependsOn(label string) []string {
	var names []string
	for _, entry := range strings.Split(label, ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(entry), ":")
		if name != "" {
			names = appendUnique(names, name)
		}
	}
	return names
}

func (n Node) provides(name string) bool {
	for _, p := range n.Provides {
		if p == name {
			return true
		}
	}
	return false
}

// Plan is the outcome of Resolve.
type Plan struct {
	// Order holds every node, dependencies first.
	Order []Node
	// Stop holds the running nodes, dependents first.
	Stop []Node
	// Start is the exact reverse of Stop.
	Start []Node
	// Cycle names the nodes that could not be ordered because of a dependency cycle.
	// They are placed after every other node, in declaration order.
	Cycle []string

	provided map[string]bool
}

// Resolve orders a group of nodes.
func Resolve(nodes []Node) Plan {
	providers := map[string]int{}
	for i, n := range nodes {
		for _, name := range n.Provides {
			if _, ok := providers[name]; !ok {
				providers[name] = i
			}
		}
	}

	// direct dependencies as node indexes
	direct := make([][]int, len(nodes))
	for i, n := range nodes {
		for _, name := range n.Needs {
			if j, ok := providers[name]; ok && j != i {
				direct[i] = appendUniqueInt(direct[i], j)
			}
		}
	}

	resolved := make([]Node, len(nodes))
	for i, n := range nodes {
		n.Closure = closure(i, nodes, direct, providers)
		resolved[i] = n
	}

	// Kahn's algorithm, always picking the earliest declared ready node
	placed := make([]bool, len(nodes))
	order := make([]Node, 0, len(nodes))
	for len(order) < len(nodes) {
		next := -1
		for i := range resolved {
			if placed[i] {
				continue
			}
			ready := true
			for _, j := range direct[i] {
				if !placed[j] {
					ready = false
					break
				}
			}
			if ready {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		placed[next] = true
		order = append(order, resolved[next])
	}

	var cycle []string
	for i, n := range resolved {
		if !placed[i] {
			cycle = append(cycle, n.Name)
			order = append(order, n)
		}
	}

	plan := Plan{Order: order, Cycle: cycle, provided: map[string]bool{}}
	for name := range providers {
		plan.provided[name] = true
	}
	for i := len(order) - 1; i >= 0; i-- {
		if order[i].WasRunning {
			plan.Stop = append(plan.Stop, order[i])
		}
	}
	for i := len(plan.Stop) - 1; i >= 0; i-- {
		plan.Start = append(plan.Start, plan.Stop[i])
	}
	return plan
}

// closure walks the needs of node i transitively. Names are reported even when
// no node of the group provides them.
func closure(i int, nodes []Node, direct [][]int, providers map[string]int) []string {
	var names []string
	visited := map[int]bool{i: true}
	var walk func(k int)
	walk = func(k int) {
		for _, name := range nodes[k].Needs {
			names = appendUnique(names, name)
			j, ok := providers[name]
			if !ok || visited[j] {
				continue
			}
			visited[j] = true
			walk(j)
		}
	}
	walk(i)
	return names
}

// Waves splits nodes to start into batches that may be started concurrently.
// A node joins the current batch while every name of its closure provided by the group is active.
// Otherwise the batch is closed: its nodes become active and a new batch begins with the node.
// Names provided by running nodes that are not being started are active from the beginning.
func (p Plan) Waves(toStart []Node) [][]Node {
	pending := map[string]bool{}
	for _, n := range toStart {
		pending[n.ID] = true
	}

	active := map[string]bool{}
	activate := func(n Node) {
		for _, name := range n.Provides {
			active[name] = true
		}
	}
	for _, n := range p.Order {
		if n.WasRunning && !pending[n.ID] {
			activate(n)
		}
	}

	var waves [][]Node
	var batch []Node
	for _, n := range toStart {
		if len(batch) > 0 && !p.satisfied(n, active) {
			waves = append(waves, batch)
			for _, b := range batch {
				activate(b)
			}
			batch = nil
		}
		batch = append(batch, n)
	}
	if len(batch) > 0 {
		waves = append(waves, batch)
	}
	return waves
}

func (p Plan) satisfied(n Node, active map[string]bool) bool {
	for _, name := range n.Closure {
		if p.provided[name] && !active[name] && !n.provides(name) {
			return false
		}
	}
	return true
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func appendUniqueInt(list []int, v int) []int {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
