package store

import (
	"time"
)

// Settings contains the balancer mode of a network saved to DB. Pinned is only meaningful when Manual is set.
type Settings struct {
	Manual bool   `json:"manual" bson:"manual"`
	Pinned string `json:"pinned,omitempty" bson:"pinned"`
}

// BackendView contains what the observer knows about a backend.
type BackendView struct {
	Online    bool  `json:"online" bson:"online"`
	Workers   int   `json:"workers" bson:"workers"`
	Succeeded int64 `json:"succeeded" bson:"succeeded"`
	Failed    int64 `json:"failed" bson:"failed"`
	TimedOut  int64 `json:"timedOut" bson:"timedOut"`
	AvgMs     int64 `json:"avgMs" bson:"avgMs"`
}

// NetView contains the fields for an observer view of a network saved to DB.
type NetView struct {
	Backends  map[string]BackendView `json:"backends" bson:"backends"`
	Requested int64                  `json:"requested" bson:"requested"`
	Succeeded int64                  `json:"succeeded" bson:"succeeded"`
	Failed    int64                  `json:"failed" bson:"failed"`
	Flushes   int64                  `json:"flushes" bson:"flushes"`
	Switches  int64                  `json:"switches" bson:"switches"`
	LastEvent string                 `json:"lastEvent" bson:"lastEvent"`
	Updated   time.Time              `json:"updated" bson:"updated"`
}
