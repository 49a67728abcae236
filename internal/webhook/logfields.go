package webhook

import "github.com/simplesurance/prbuilder/internal/logfields"

var logEventIgnored = logfields.Event("github_event_ignored")
