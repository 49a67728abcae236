package prtrigger

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type httpRespWriter struct {
	http.ResponseWriter
	logger *zap.Logger
}

func newHTTPRespWriter(logger *zap.Logger, resp http.ResponseWriter) *httpRespWriter {
	return &httpRespWriter{
		ResponseWriter: resp,
		logger:         logger,
	}
}

// WriteStr writes a string to the http response writer.
// If an error happens, it is logged with info priority and false is returned.
// If it succeeded true is returned.
func (rw *httpRespWriter) WriteStr(str string) (wasSuccessful bool) {
	_, err := rw.ResponseWriter.Write([]byte(str))
	if err != nil {
		rw.logger.Info("sending http response failed", zap.Error(err))
		return false
	}

	return true
}

func state(rec *Record) string {
	switch {
	case rec.PendingBuild:
		return "build pending"
	case rec.Accepted:
		return "accepted"
	default:
		return "awaiting approval"
	}
}

// HTTPHandlerList lists the tracked pull requests of all repositories in
// plain text.
func (r *Repositories) HTTPHandlerList(respWr http.ResponseWriter, _ *http.Request) {
	resp := newHTTPRespWriter(zap.L().Named(loggerName).Named("http"), respWr)

	resp.Header().Add("Content-Type", "text/plain")

	if len(r.ordered) == 0 {
		resp.WriteStr("no repositories are monitored\n")
		return
	}

	for _, repo := range r.ordered {
		records := repo.Records()

		if !resp.WriteStr(fmt.Sprintf("Repository: %s, %d pull requests tracked\n", repo.FullName(), len(records))) {
			return
		}

		for _, rec := range records {
			success := resp.WriteStr(fmt.Sprintf(
				"\tPR: %-5d Author: %-20s Base: %-15s Head: %.12s\tMergeable: %-7s Updated: %s\t%s\n",
				rec.Number, rec.Author, rec.TargetBranch, rec.HeadCommit,
				rec.Mergeable, rec.LastSeenUpdate.Format(time.RFC822), state(rec),
			))
			if !success {
				return
			}
		}
	}
}
