package skills

import (
	"squire/internal/classify"
	"squire/internal/deadline"
)

// Skill binds a keyword group to a handler that runs inside the
// isolated executor process.
type Skill struct {
	Name     string
	Keywords []string
	Handler  deadline.HandlerFunc
}

// Registry resolves commands to skills in registration order.
type Registry struct {
	skills []Skill
	byName map[string]Skill
}

func NewRegistry(skills ...Skill) *Registry {
	r := &Registry{byName: make(map[string]Skill, len(skills))}
	for _, s := range skills {
		r.Register(s)
	}
	return r
}

// Register adds s; a later skill with the same name replaces the earlier one
// but keeps its position.
func (r *Registry) Register(s Skill) {
	if s.Name == "" || s.Handler == nil {
		return
	}
	if _, exists := r.byName[s.Name]; exists {
		for i := range r.skills {
			if r.skills[i].Name == s.Name {
				r.skills[i] = s
			}
		}
	} else {
		r.skills = append(r.skills, s)
	}
	r.byName[s.Name] = s
}

// Resolve returns the first skill whose keywords match text.
func (r *Registry) Resolve(text string) (Skill, bool) {
	for _, s := range r.skills {
		if _, ok := classify.Match(text, s.Keywords); ok {
			return s, true
		}
	}
	return Skill{}, false
}

// Lookup implements deadline.Lookuper for the child process.
func (r *Registry) Lookup(name string) (deadline.HandlerFunc, bool) {
	s, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return s.Handler, true
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s.Name)
	}
	return out
}
