package gateway

import (
	"context"
	"errors"
	"net/http"

	"siteledger/internal/domain"
	"siteledger/internal/repo"
	"siteledger/internal/store"
)

// Local serves the store straight from the workspace database. The token is
// ignored; writes are attributed to Actor.
type Local struct {
	Repo  repo.Repo
	Actor string
}

var _ store.Gateway = Local{}

func (l Local) actor() string {
	if l.Actor == "" {
		return "local"
	}
	return l.Actor
}

func (l Local) List(ctx context.Context, _ string) (store.Response[[]domain.Project], error) {
	projects, err := l.Repo.ListProjects(ctx)
	if err != nil {
		return store.Response[[]domain.Project]{}, err
	}
	return store.Response[[]domain.Project]{StatusCode: http.StatusOK, Data: projects}, nil
}

func (l Local) Create(ctx context.Context, _ string, draft domain.Project) (store.Response[domain.Project], error) {
	p, err := l.Repo.InsertProject(ctx, draft, l.actor())
	return respond(p, err)
}

func (l Local) Update(ctx context.Context, _ string, p domain.Project) (store.Response[domain.Project], error) {
	saved, err := l.Repo.UpdateProject(ctx, p, l.actor())
	return respond(saved, err)
}

func respond(p domain.Project, err error) (store.Response[domain.Project], error) {
	switch {
	case err == nil:
		return store.Response[domain.Project]{StatusCode: http.StatusOK, Data: p}, nil
	case errors.Is(err, repo.ErrNotFound):
		return store.Response[domain.Project]{StatusCode: http.StatusNotFound}, nil
	case errors.Is(err, repo.ErrInvalid):
		return store.Response[domain.Project]{StatusCode: http.StatusUnprocessableEntity}, nil
	default:
		return store.Response[domain.Project]{}, err
	}
}
