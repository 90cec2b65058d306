package deps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceymard/chest/internal/container"
)

func names(nodes []Node) []string {
	out := []string{}
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

func waveNames(waves [][]Node) [][]string {
	var out [][]string
	for _, w := range waves {
		out = append(out, names(w))
	}
	return out
}

func composeNode(name, service, dependsOn string, running bool) Node {
	labels := map[string]string{LabelComposeService: service}
	if dependsOn != "" {
		labels[LabelDependsOn] = dependsOn
	}
	return NewNode(container.Info{ID: name, Name: name, Running: running, Labels: labels})
}

func TestParseDependsOn(t *testing.T) {
	tests := []struct {
		label string
		want  []string
	}{
		{"", nil},
		{"db:service_started:true", []string{"db"}},
		{"db:service_started:true,cache:service_healthy:false", []string{"db", "cache"}},
		{" db , db:service_started ", []string{"db"}},
		{"api", []string{"api"}},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDependsOn(tt.label))
		})
	}
}

func TestNewNode(t *testing.T) {
	n := NewNode(container.Info{
		ID:      "1",
		Name:    "app-web-1",
		Running: true,
		Labels: map[string]string{
			LabelComposeService: "web",
			LabelDependsOn:      "api:service_started:true,web:service_started:true",
		},
		Links: []string{"legacy-db"},
	})

	assert.Equal(t, []string{"app-web-1", "web"}, n.Provides)
	assert.Equal(t, []string{"api", "legacy-db"}, n.Needs, "self references are ignored")
	assert.True(t, n.WasRunning)
}

func TestResolveChain(t *testing.T) {
	// declared in an order unrelated to the dependencies
	nodes := []Node{
		composeNode("web", "web", "api:service_started:true", true),
		composeNode("db", "db", "", true),
		composeNode("api", "api", "db:service_started:true", true),
	}

	plan := Resolve(nodes)
	assert.Empty(t, plan.Cycle)
	assert.Equal(t, []string{"db", "api", "web"}, names(plan.Order))
	assert.Equal(t, []string{"web", "api", "db"}, names(plan.Stop))
	assert.Equal(t, []string{"db", "api", "web"}, names(plan.Start))
	assert.Equal(t, [][]string{{"db"}, {"api"}, {"web"}}, waveNames(plan.Waves(plan.Start)))
}

func TestResolveClosure(t *testing.T) {
	plan := Resolve([]Node{
		composeNode("web", "web", "api", true),
		composeNode("api", "api", "db", true),
		composeNode("db", "db", "", true),
	})

	byName := map[string]Node{}
	for _, n := range plan.Order {
		byName[n.Name] = n
	}
	assert.ElementsMatch(t, []string{"api", "db"}, byName["web"].Closure)
	assert.Equal(t, []string{"db"}, byName["api"].Closure)
	assert.Empty(t, byName["db"].Closure)
}

func TestResolveKeepsDeclarationOrderForIndependentNodes(t *testing.T) {
	plan := Resolve([]Node{
		composeNode("c", "c", "", true),
		composeNode("a", "a", "", true),
		composeNode("b", "b", "", true),
	})

	assert.Equal(t, []string{"c", "a", "b"}, names(plan.Start))
	assert.Equal(t, []string{"b", "a", "c"}, names(plan.Stop))
	assert.Equal(t, [][]string{{"c", "a", "b"}}, waveNames(plan.Waves(plan.Start)))
}

func TestResolveStopSkipsStoppedNodes(t *testing.T) {
	plan := Resolve([]Node{
		composeNode("web", "web", "db", true),
		composeNode("db", "db", "", false),
	})

	assert.Equal(t, []string{"db", "web"}, names(plan.Order))
	assert.Equal(t, []string{"web"}, names(plan.Stop))
	assert.Equal(t, []string{"web"}, names(plan.Start))
}

func TestResolveIgnoresExternalNeeds(t *testing.T) {
	plan := Resolve([]Node{
		composeNode("web", "web", "elsewhere", true),
		composeNode("db", "db", "", true),
	})

	assert.Equal(t, []string{"web", "db"}, names(plan.Order))
	assert.Equal(t, [][]string{{"web", "db"}}, waveNames(plan.Waves(plan.Start)))
}

func TestResolveCycle(t *testing.T) {
	plan := Resolve([]Node{
		composeNode("solo", "solo", "", true),
		composeNode("a", "a", "b", true),
		composeNode("b", "b", "a", true),
		composeNode("c", "c", "a", true),
	})

	assert.Equal(t, []string{"a", "b", "c"}, plan.Cycle)
	assert.Equal(t, []string{"solo", "a", "b", "c"}, names(plan.Order))
	assert.Len(t, plan.Start, 4)
}

func TestResolveTopologicalProperty(t *testing.T) {
	nodes := []Node{
		composeNode("proxy", "proxy", "web,api", true),
		composeNode("worker", "worker", "queue,db", true),
		composeNode("web", "web", "api", true),
		composeNode("queue", "queue", "", true),
		composeNode("api", "api", "db,queue", true),
		composeNode("db", "db", "", true),
	}

	plan := Resolve(nodes)
	require.Empty(t, plan.Cycle)

	position := map[string]int{}
	for i, n := range plan.Start {
		for _, p := range n.Provides {
			position[p] = i
		}
	}
	for i, n := range plan.Start {
		for _, need := range n.Needs {
			assert.Less(t, position[need], i, "%s starts before %s", need, n.Name)
		}
	}

	for _, wave := range plan.Waves(plan.Start) {
		inWave := map[string]bool{}
		for _, n := range wave {
			for _, p := range n.Provides {
				inWave[p] = true
			}
		}
		for _, n := range wave {
			for _, need := range n.Closure {
				assert.False(t, inWave[need], "%s shares a wave with its dependency %s", n.Name, need)
			}
		}
	}
}

func TestWavesTreatRunningNodesAsActive(t *testing.T) {
	plan := Resolve([]Node{
		composeNode("db", "db", "", true),
		composeNode("api", "api", "db", true),
		composeNode("web", "web", "api", true),
	})

	// db was never stopped, only api and web need a start
	toStart := plan.Start[1:]
	assert.Equal(t, [][]string{{"api"}, {"web"}}, waveNames(plan.Waves(toStart)))
}

func TestResolveLinks(t *testing.T) {
	plan := Resolve([]Node{
		NewNode(container.Info{ID: "1", Name: "web", Running: true, Links: []string{"db"}}),
		NewNode(container.Info{ID: "2", Name: "db", Running: true}),
	})
	assert.Equal(t, []string{"db", "web"}, names(plan.Start))
}

func TestResolveEmpty(t *testing.T) {
	plan := Resolve(nil)
	assert.Empty(t, plan.Order)
	assert.Empty(t, plan.Start)
	assert.Empty(t, plan.Waves(nil))
}
