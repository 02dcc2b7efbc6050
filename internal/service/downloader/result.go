package downloader

// stepResult tags the outcome of one tree-node step (a file or an
// attachment). The walk loops fold over these instead of nesting
// error handling: a failed step is already logged and never aborts its
// siblings.
type stepResult int

const (
	stepDownloaded stepResult = iota
	stepSkipped
	stepFailed
)

// walkTally accumulates step results across one course walk.
type walkTally struct {
	downloaded int
	skipped    int
	failed     int
}

func (t *walkTally) add(r stepResult) {
	switch r {
	case stepDownloaded:
		t.downloaded++
	case stepSkipped:
		t.skipped++
	case stepFailed:
		t.failed++
	}
}
