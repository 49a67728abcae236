package logfields

import "go.uber.org/zap"

func PullRequest(val int) zap.Field {
	return zap.Int("github.pull_request", val)
}

// Repository returns a field for the repository name without the owner.
func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

// RepositoryFullName returns a field for the repository name in the format
// owner/name.
func RepositoryFullName(val string) zap.Field {
	return zap.String("github.repository_full_name", val)
}

func RepositoryOwner(val string) zap.Field {
	return zap.String("github.repository_owner", val)
}

func BaseBranch(val string) zap.Field {
	return zap.String("git.base_branch", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func Author(val string) zap.Field {
	return zap.String("github.author", val)
}

func Sender(val string) zap.Field {
	return zap.String("github.sender", val)
}
