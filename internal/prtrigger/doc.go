// Package prtrigger decides when builds are triggered for pull requests.
//
// For every monitored repository a RepositorySync tracks the open pull
// requests. A pull request gets accepted for building when its author is
// whitelisted or an admin approves it via a comment. Accepted pull requests
// are built when a new commit is pushed or when a retest is requested via a
// comment.
//
// The tracked state is updated from 2 sources, periodic polling of the github
// API (Poller) and github webhook events. Both serialize their access per
// repository.
package prtrigger
