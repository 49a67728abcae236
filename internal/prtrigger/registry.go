package prtrigger

import (
	"errors"
	"strings"
)

var ErrUnknownRepository = errors.New("repository is not monitored")

// Repositories is the set of monitored repositories.
// It is not modified after creation and is safe for concurrent use.
type Repositories struct {
	byName  map[string]*RepositorySync
	ordered []*RepositorySync
}

func repoKey(owner, repo string) string {
	// github repository names are case-insensitive
	return strings.ToLower(owner + "/" + repo)
}

func NewRepositories(repos ...*RepositorySync) *Repositories {
	result := Repositories{
		byName:  make(map[string]*RepositorySync, len(repos)),
		ordered: make([]*RepositorySync, 0, len(repos)),
	}

	for _, r := range repos {
		key := repoKey(r.Owner(), r.Name())
		if _, exists := result.byName[key]; exists {
			continue
		}

		result.byName[key] = r
		result.ordered = append(result.ordered, r)
	}

	return &result
}

// Get returns the RepositorySync of a repository.
func (r *Repositories) Get(owner, repo string) (*RepositorySync, error) {
	sync, exists := r.byName[repoKey(owner, repo)]
	if !exists {
		return nil, ErrUnknownRepository
	}

	return sync, nil
}

// All returns all repositories in the order they were passed to
// NewRepositories.
func (r *Repositories) All() []*RepositorySync {
	return r.ordered
}
