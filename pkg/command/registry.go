package command

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// DefaultAliases maps shorthand help topics to command names.
var DefaultAliases = map[string]string{
	"t": "t_phrase",
}

// Registry holds commands in registration order.
type Registry struct {
	commands []Command
	byName   map[string]Command
	aliases  map[string]string
}

// NewRegistry builds a registry. The alias table is normalized once here.
func NewRegistry(aliases map[string]string) *Registry {
	normalized := make(map[string]string, len(aliases))
	for alias, name := range aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		name = strings.ToLower(strings.TrimSpace(name))
		if alias != "" && name != "" {
			normalized[alias] = name
		}
	}

	return &Registry{byName: make(map[string]Command), aliases: normalized}
}

// Register appends commands, rejecting duplicate names.
func (r *Registry) Register(commands ...Command) error {
	for _, cmd := range commands {
		if cmd == nil {
			continue
		}
		name := strings.ToLower(cmd.Name())
		if name == "" {
			return fmt.Errorf("register command: empty name")
		}
		if _, exists := r.byName[name]; exists {
			return fmt.Errorf("register command %q: already registered", name)
		}
		r.byName[name] = cmd
		r.commands = append(r.commands, cmd)
	}

	return nil
}

// All returns the commands in registration order.
func (r *Registry) All() []Command {
	return slices.Clone(r.commands)
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	return len(r.commands)
}

// Lookup finds a command by name after alias resolution.
func (r *Registry) Lookup(name string) (Command, bool) {
	cmd, ok := r.byName[r.Resolve(name)]
	return cmd, ok
}

// Resolve maps an alias to its canonical command name.
func (r *Registry) Resolve(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := r.aliases[name]; ok {
		return canonical
	}

	return name
}

// ByKeyword returns the first registered command owning keyword.
func (r *Registry) ByKeyword(keyword string) (Command, bool) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	for _, cmd := range r.commands {
		for _, owned := range cmd.Keywords() {
			if strings.EqualFold(owned, keyword) {
				return cmd, true
			}
		}
	}

	return nil, false
}

// OwnsKeyword reports whether any command claims keyword, ignoring case.
func (r *Registry) OwnsKeyword(keyword string) bool {
	_, ok := r.ByKeyword(keyword)
	return ok
}

// Names returns the sorted primary command names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.commands))
	for _, cmd := range r.commands {
		names = append(names, cmd.Name())
	}
	sort.Strings(names)

	return names
}
