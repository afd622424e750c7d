package entity

import (
	"context"
	"errors"
	"strings"

	"gitscribe/internal/engine"
)

// Service reads and rewrites whole entities through the edit engine so
// every change lands in the session commit with a fresh snapshot.
type Service struct {
	eng *engine.Engine
	loc *Locator
}

// NewService creates an entity service over the given engine.
func NewService(eng *engine.Engine) *Service {
	return &Service{eng: eng, loc: NewLocator()}
}

// Read returns the source text of one entity.
func (s *Service) Read(ctx context.Context, sessionID, path string, kind Kind, name string) (string, error) {
	content, err := s.eng.Read(ctx, sessionID, path)
	if err != nil {
		return "", err
	}
	ent, err := s.loc.Find(ctx, []byte(content), path, kind, name)
	if err != nil {
		return "", err
	}
	return content[ent.Start:ent.End], nil
}

// Write replaces one entity's definition with source. A missing function
// is appended to the end of the file; a missing class is an error.
func (s *Service) Write(ctx context.Context, sessionID, path string, kind Kind, name, source, description string) (*engine.EditResult, error) {
	content, err := s.eng.Read(ctx, sessionID, path)
	if err != nil {
		return nil, err
	}

	source = strings.TrimRight(source, "\n")

	ent, err := s.loc.Find(ctx, []byte(content), path, kind, name)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) && kind == KindFunction {
			appended := strings.TrimRight(content, "\n") + "\n\n\n" + source + "\n"
			if content == "" {
				appended = source + "\n"
			}
			return s.eng.Create(ctx, sessionID, path, appended, description)
		}
		return nil, err
	}

	edited := content[:ent.Start] + source + content[ent.End:]
	return s.eng.Create(ctx, sessionID, path, edited, description)
}

// List enumerates the entities in a file.
func (s *Service) List(ctx context.Context, sessionID, path string) ([]*Entity, error) {
	content, err := s.eng.Read(ctx, sessionID, path)
	if err != nil {
		return nil, err
	}
	return s.loc.List(ctx, []byte(content), path)
}
