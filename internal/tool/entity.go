package tool

import (
	"context"

	"gitscribe/internal/entity"
)

// entityTool reads or rewrites a named function or class as a unit.
type entityTool struct {
	kind  entity.Kind
	write bool
}

func (t entityTool) Validate(p Params) error {
	if err := requireStrings(p, "path", "name"); err != nil {
		return err
	}
	if t.write {
		return requireStrings(p, "source", "description")
	}
	return nil
}

func (t entityTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	path, _ := p.String("path")
	name, _ := p.String("name")

	if !t.write {
		source, err := env.Entities.Read(ctx, sessionID, path, t.kind, name)
		if err != nil {
			return nil, err
		}
		return map[string]any{"name": name, "source": source}, nil
	}

	source, _ := p.String("source")
	description, _ := p.String("description")
	res, err := env.Entities.Write(ctx, sessionID, path, t.kind, name, source, description)
	if err != nil {
		return nil, err
	}
	return editPayload(res), nil
}

// listEntitiesTool enumerates the functions and classes in a file.
type listEntitiesTool struct{}

func (listEntitiesTool) Validate(p Params) error {
	return requireStrings(p, "path")
}

func (listEntitiesTool) Execute(ctx context.Context, env *Env, sessionID string, p Params) (any, error) {
	path, _ := p.String("path")
	ents, err := env.Entities.List(ctx, sessionID, path)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(ents))
	for _, ent := range ents {
		out = append(out, map[string]any{
			"name":      ent.Name,
			"kind":      string(ent.Kind),
			"signature": ent.Signature,
		})
	}
	return map[string]any{"entities": out}, nil
}
