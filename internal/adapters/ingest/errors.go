package ingest

import "errors"

// Sentinel errors for ingestion.
var (
	ErrNoRoute    = errors.New("no fetcher for source kind")
	ErrHTTPStatus = errors.New("unexpected http status")
	ErrBufferFull = errors.New("push buffer full")
	ErrNoFeedURL  = errors.New("source has no feed url")
)
