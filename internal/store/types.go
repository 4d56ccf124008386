package store

import "time"

// Campaign is one recorded reset run.
type Campaign struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Families   []string
	Modes      []string
	Found      int
	Succeeded  int
	Failed     int
	Skipped    int
	Success    bool
	Cancelled  bool
}

// ResultRow is the stored form of one artifact mutation.
type ResultRow struct {
	CampaignID int64
	Family     string
	Label      string
	Path       string
	Kind       string
	Scope      string
	Mode       string
	Outcome    string
	Changes    int
	Records    int64
	Protected  bool
	// Detail is the error of a failure or the reason for a skip.
	Detail     string
}
