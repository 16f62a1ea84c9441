// Package storetest provides an in-memory store.Gateway for tests.
package storetest

import (
	"context"
	"net/http"
	"sync"

	"siteledger/internal/aggregate"
	"siteledger/internal/domain"
	"siteledger/internal/store"
)

// Gateway keeps projects in memory. Status fields default to 200; set them
// (or the Err fields) to simulate backend failures.
type Gateway struct {
	mu       sync.Mutex
	projects []domain.Project
	nextID   int64

	ListStatus   int
	ListErr      error
	CreateStatus int
	CreateErr    error
	UpdateStatus int
	UpdateErr    error

	// BeforeUpdate, when set, runs inside Update before it answers.
	BeforeUpdate func(p domain.Project)

	Tokens  []string
	Updates []domain.Project
}

func New(projects ...domain.Project) *Gateway {
	g := &Gateway{nextID: 1}
	for _, p := range projects {
		g.projects = append(g.projects, p.Clone())
		if p.ID >= g.nextID {
			g.nextID = p.ID + 1
		}
	}
	return g
}

func status(code int) int {
	if code == 0 {
		return http.StatusOK
	}
	return code
}

func (g *Gateway) List(_ context.Context, token string) (store.Response[[]domain.Project], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Tokens = append(g.Tokens, token)
	if g.ListErr != nil {
		return store.Response[[]domain.Project]{}, g.ListErr
	}
	code := status(g.ListStatus)
	if code != http.StatusOK {
		return store.Response[[]domain.Project]{StatusCode: code}, nil
	}
	out := make([]domain.Project, len(g.projects))
	for i, p := range g.projects {
		out[i] = p.Clone()
	}
	return store.Response[[]domain.Project]{StatusCode: code, Data: out}, nil
}

func (g *Gateway) Create(_ context.Context, token string, draft domain.Project) (store.Response[domain.Project], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Tokens = append(g.Tokens, token)
	if g.CreateErr != nil {
		return store.Response[domain.Project]{}, g.CreateErr
	}
	code := status(g.CreateStatus)
	if code != http.StatusOK {
		return store.Response[domain.Project]{StatusCode: code}, nil
	}
	p := aggregate.Refresh(draft.Clone())
	p.ID = g.nextID
	g.nextID++
	g.projects = append(g.projects, p.Clone())
	return store.Response[domain.Project]{StatusCode: code, Data: p}, nil
}

func (g *Gateway) Update(_ context.Context, token string, p domain.Project) (store.Response[domain.Project], error) {
	if g.BeforeUpdate != nil {
		g.BeforeUpdate(p)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Tokens = append(g.Tokens, token)
	g.Updates = append(g.Updates, p.Clone())
	if g.UpdateErr != nil {
		return store.Response[domain.Project]{}, g.UpdateErr
	}
	code := status(g.UpdateStatus)
	if code != http.StatusOK {
		return store.Response[domain.Project]{StatusCode: code}, nil
	}
	saved := aggregate.Refresh(p.Clone())
	for i := range g.projects {
		if g.projects[i].ID == p.ID {
			g.projects[i] = saved.Clone()
			return store.Response[domain.Project]{StatusCode: code, Data: saved}, nil
		}
	}
	return store.Response[domain.Project]{StatusCode: http.StatusNotFound}, nil
}

// Replace swaps the stored projects, e.g. to simulate another client
// deleting everything between two loads.
func (g *Gateway) Replace(projects ...domain.Project) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.projects = g.projects[:0]
	for _, p := range projects {
		g.projects = append(g.projects, p.Clone())
		if p.ID >= g.nextID {
			g.nextID = p.ID + 1
		}
	}
}

// Stored returns the gateway's copy of a project.
func (g *Gateway) Stored(id int64) (domain.Project, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.projects {
		if p.ID == id {
			return p.Clone(), true
		}
	}
	return domain.Project{}, false
}
