package hash

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: "d41d8cd9"},
		{name: "container", in: "db", want: "d77d5e50"},
		{name: "project", in: "myapp", want: "8358a413"},
		{name: "path", in: "/srv/app", want: "8d9fbf10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Short(tt.in))
		})
	}
}

func TestName(t *testing.T) {
	validName := regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]+$`)

	for _, key := range []string{"db", "my app", "bad/name:with@chars", ""} {
		t.Run(key, func(t *testing.T) {
			name := Name("chest", key)
			assert.Regexp(t, validName, name)
			assert.Equal(t, name, Name("chest", key), "deterministic")
		})
	}
	assert.NotEqual(t, Name("chest", "db"), Name("chest", "web"))
	assert.Equal(t, "chest-d77d5e50", Name("chest", "db"))
}
