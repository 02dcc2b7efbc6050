package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mirrorware/canvas-mirror/internal/domain"
	"github.com/mirrorware/canvas-mirror/internal/port"
	"github.com/mirrorware/canvas-mirror/internal/service/ratelimit"
)

// errStopRequested aborts an in-flight chunked transfer when the stop
// flag is raised mid-stream.
var errStopRequested = errors.New("stop requested")

// Config contains job configuration
type Config struct {
	// LargeFileThreshold is the size above which a file body is
	// streamed in chunks instead of copied in one buffered pass.
	LargeFileThreshold int64

	// ChunkSize is the streaming chunk size; the stop flag is checked
	// once per chunk.
	ChunkSize int
}

// DefaultConfig returns default job configuration
func DefaultConfig() *Config {
	return &Config{
		LargeFileThreshold: 100 * 1024 * 1024, // 100MB
		ChunkSize:          8 * 1024,
	}
}

// Params identifies one download run.
type Params struct {
	// ClientID is the rate-limit identity the run debits.
	ClientID string

	// CourseIDs selects the courses to mirror.
	CourseIDs []int64
}

// Job owns one user's download run: it enumerates the selected
// courses, walks their folder/file and assignment/submission trees,
// transfers what is missing locally, and reports progress through the
// sink. All walking runs sequentially on the single goroutine that
// calls Run; Stop and the snapshot accessors are safe from any
// goroutine.
type Job struct {
	id       string
	clientID string
	selected map[int64]bool

	config   *Config
	provider port.CourseProvider
	ws       port.Workspace
	sink     port.ProgressSink
	limiter  *ratelimit.Limiter
	registry *Registry
	logger   *zap.Logger

	stop atomic.Bool

	mu       sync.Mutex
	status   domain.JobStatus
	progress domain.Progress
	limitHit bool
	user     *domain.User
}

// New creates a job with a fresh identifier.
func New(
	cfg *Config,
	params Params,
	provider port.CourseProvider,
	ws port.Workspace,
	sink port.ProgressSink,
	limiter *ratelimit.Limiter,
	registry *Registry,
	logger *zap.Logger,
) *Job {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.LargeFileThreshold <= 0 {
		cfg.LargeFileThreshold = 100 * 1024 * 1024
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 8 * 1024
	}
	if sink == nil {
		sink = port.NopSink{}
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultBudgets())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	selected := make(map[int64]bool, len(params.CourseIDs))
	for _, id := range params.CourseIDs {
		selected[id] = true
	}

	return &Job{
		id:       uuid.NewString(),
		clientID: params.ClientID,
		selected: selected,
		config:   cfg,
		provider: provider,
		ws:       ws,
		sink:     sink,
		limiter:  limiter,
		registry: registry,
		logger:   logger,
		status:   domain.StatusInitializing,
	}
}

// ID returns the job identifier
func (j *Job) ID() string {
	return j.id
}

// ClientID returns the rate-limit identity the job debits
func (j *Job) ClientID() string {
	return j.clientID
}

// Status returns the current lifecycle state.
func (j *Job) Status() domain.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Progress returns a consistent snapshot of the progress counters.
func (j *Job) Progress() domain.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Stop raises the cooperative stop flag. It is monotonic: once raised
// it is never reset, and no new transfer starts afterwards. An
// in-flight chunked transfer aborts at its next chunk boundary.
func (j *Job) Stop() {
	j.stop.Store(true)
}

// Stopped reports whether stop has been requested.
func (j *Job) Stopped() bool {
	return j.stop.Load()
}

// Run executes the download end to end. It is launched once, on its
// own goroutine, and deregisters the job when it returns.
func (j *Job) Run(ctx context.Context) {
	defer func() {
		if j.registry != nil {
			j.registry.Remove(j.id)
		}
	}()

	j.setStatus(domain.StatusConnecting)
	j.emitLog(domain.SeverityInfo, "Starting download process...")

	user, err := j.provider.CurrentUser(ctx)
	if err != nil {
		j.fail(fmt.Sprintf("Failed to connect to Canvas: %v", err))
		return
	}
	j.setUser(user)
	j.emitLog(domain.SeveritySuccess, "Connected to Canvas as %s", user.Name)

	j.setStatus(domain.StatusFetchingCourses)
	j.emitLog(domain.SeverityInfo, "Fetching course information...")

	courses, err := j.provider.Courses(ctx, user.ID, &port.CourseListOptions{IncludeTerm: true})
	if err != nil {
		j.fail(fmt.Sprintf("Failed to fetch courses: %v", err))
		return
	}

	var targets []domain.Course
	for _, c := range courses {
		if j.selected[c.ID] {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		j.fail("No valid courses found for download")
		return
	}

	j.setStatus(domain.StatusCalculating)
	total := j.calculateTotal(ctx, targets)
	j.setTotal(total)
	j.emitLog(domain.SeverityInfo, "Found %d files across %d courses", total, len(targets))

	j.setStatus(domain.StatusDownloading)
	j.emitLog(domain.SeverityInfo, "Starting file downloads...")

	for _, course := range targets {
		if j.Stopped() {
			break
		}

		if allowed, remaining := j.limiter.TryConsume(j.clientID, ratelimit.BudgetCourseProcessing, 1); !allowed {
			j.emitLog(domain.SeverityWarning,
				"Course processing rate limit reached, skipping course %s (remaining budget %d)", course.Code, remaining)
			continue
		}

		j.emitLog(domain.SeverityInfo, "Processing course: %s (%s)", course.Name, course.Code)
		j.downloadCourseFiles(ctx, course)
		if j.Stopped() {
			break
		}
		j.downloadAssignmentSubmissions(ctx, course)
		j.emitLog(domain.SeveritySuccess, "Completed course: %s", course.Code)
	}

	if j.Stopped() {
		j.setStatus(domain.StatusStopped)
		j.emitLog(domain.SeverityWarning, "Download stopped by user")
		return
	}

	j.setStatus(domain.StatusCompleted)
	j.emitLog(domain.SeveritySuccess, "Download completed! Downloaded %d files", j.Progress().Completed)
}

// calculateTotal sums the file and attachment counts for the given
// courses. Best effort: every course, folder and assignment failure is
// skipped independently, so the result can undercount; it is only a
// progress denominator.
func (j *Job) calculateTotal(ctx context.Context, courses []domain.Course) int {
	j.emitLog(domain.SeverityInfo, "Calculating total files...")

	user := j.currentUser()
	total := 0

	for _, course := range courses {
		if j.Stopped() {
			break
		}

		folders, err := j.provider.Folders(ctx, course.ID)
		if err != nil {
			j.emitLog(domain.SeverityWarning, "Error counting files for %s: %v", course.Code, err)
			continue
		}
		for _, folder := range folders {
			files, err := j.provider.Files(ctx, folder.ID)
			if err != nil {
				continue
			}
			total += len(files)
		}

		assignments, err := j.provider.Assignments(ctx, course.ID)
		if err != nil {
			continue
		}
		for _, assignment := range assignments {
			submission, err := j.provider.Submission(ctx, assignment, user.ID)
			if err != nil {
				continue
			}
			total += len(submission.Attachments)
		}
	}

	return total
}

// downloadCourseFiles walks the course's folder/file tree. A folder
// failure is logged and skipped without aborting sibling folders; a
// failure listing the folders themselves skips the whole files section
// of the course, not the run.
func (j *Job) downloadCourseFiles(ctx context.Context, course domain.Course) {
	folders, err := j.provider.Folders(ctx, course.ID)
	if err != nil {
		j.emitLog(domain.SeverityError, "Failed to access course files for %s: %v", course.Code, err)
		return
	}
	j.emitLog(domain.SeverityInfo, "Found %d folders in %s", len(folders), course.Code)

	var tally walkTally
	for _, folder := range folders {
		if j.Stopped() {
			break
		}

		files, err := j.provider.Files(ctx, folder.ID)
		if err != nil {
			skip := domain.NewSkippableError(err, fmt.Sprintf("Error processing folder %s", folder.Name))
			j.emitLog(domain.SeverityWarning, "%s", skip)
			continue
		}
		j.emitLog(domain.SeverityInfo, "Processing folder %q with %d files", folder.Name, len(files))

		for _, file := range files {
			if j.Stopped() {
				break
			}
			tally.add(j.downloadFile(ctx, course, folder, file))
		}
	}

	j.logger.Debug("course files walked",
		zap.String("job_id", j.id),
		zap.String("course", course.Code),
		zap.Int("downloaded", tally.downloaded),
		zap.Int("skipped", tally.skipped),
		zap.Int("failed", tally.failed))
}

// downloadFile transfers a single file unless its destination already
// exists. Files above the threshold stream in chunks with a stop check
// per chunk; a partial destination left by a mid-transfer error or
// stop is deleted.
func (j *Job) downloadFile(ctx context.Context, course domain.Course, folder domain.Folder, file domain.RemoteFile) stepResult {
	name := file.ResolveName()
	dest := j.ws.DerivePath(course.Term(), course.Code, folder.Name, name)

	if j.ws.Exists(dest) {
		j.emitLog(domain.SeverityInfo, "Skipping existing file: %s", name)
		return stepSkipped
	}

	if !j.allowTransfer() {
		return stepSkipped
	}

	if err := j.ws.EnsureParentDirs(dest); err != nil {
		j.emitLog(domain.SeverityError, "Failed to create directory for %s: %v", name, err)
		return stepFailed
	}

	j.setCurrentFile(course.Code + "/" + name)

	body, err := j.provider.Download(ctx, file.URL)
	if err != nil {
		j.emitLog(itemSeverity(err), "Failed to download %s: %v", name, err)
		return stepFailed
	}
	defer body.Close()

	if file.Size > j.config.LargeFileThreshold {
		err = j.writeChunked(dest, body)
	} else {
		err = j.writeBuffered(dest, body)
	}
	j.incrementCompleted()

	if err != nil {
		if removeErr := j.ws.Remove(dest); removeErr != nil {
			j.logger.Warn("failed to remove partial file",
				zap.String("job_id", j.id),
				zap.String("path", dest),
				zap.Error(removeErr))
		}
		if errors.Is(err, errStopRequested) {
			return stepSkipped
		}
		j.emitLog(itemSeverity(err), "Failed to download %s: %v", name, err)
		return stepFailed
	}

	j.emitLog(domain.SeveritySuccess, "Downloaded: %s", name)
	return stepDownloaded
}

// downloadAssignmentSubmissions mirrors the current user's submission
// attachments under the course's assignments subtree. Per-assignment
// and per-attachment failures are isolated.
func (j *Job) downloadAssignmentSubmissions(ctx context.Context, course domain.Course) {
	assignments, err := j.provider.Assignments(ctx, course.ID)
	if err != nil {
		j.emitLog(domain.SeverityError, "Failed to access assignments for %s: %v", course.Code, err)
		return
	}
	if len(assignments) == 0 {
		return
	}
	j.emitLog(domain.SeverityInfo, "Found %d assignments in %s", len(assignments), course.Code)

	user := j.currentUser()
	var tally walkTally
	for _, assignment := range assignments {
		if j.Stopped() {
			break
		}

		submission, err := j.provider.Submission(ctx, assignment, user.ID)
		if err != nil {
			skip := domain.NewSkippableError(err, fmt.Sprintf("Error processing assignment %s", assignment.Name))
			j.emitLog(domain.SeverityWarning, "%s", skip)
			continue
		}

		for _, attachment := range submission.Attachments {
			if j.Stopped() {
				break
			}
			tally.add(j.downloadAttachment(ctx, course, attachment))
		}
	}

	j.logger.Debug("assignment submissions walked",
		zap.String("job_id", j.id),
		zap.String("course", course.Code),
		zap.Int("downloaded", tally.downloaded),
		zap.Int("skipped", tally.skipped),
		zap.Int("failed", tally.failed))
}

// downloadAttachment transfers one submission attachment.
func (j *Job) downloadAttachment(ctx context.Context, course domain.Course, attachment domain.Attachment) stepResult {
	dest := j.ws.DerivePath(course.Term(), course.Code, "assignments", attachment.Filename)

	if j.ws.Exists(dest) {
		return stepSkipped
	}

	if !j.allowTransfer() {
		return stepSkipped
	}

	if err := j.ws.EnsureParentDirs(dest); err != nil {
		j.emitLog(domain.SeverityError, "Failed to create directory for %s: %v", attachment.Filename, err)
		return stepFailed
	}

	j.setCurrentFile(course.Code + "/assignments/" + attachment.Filename)

	body, err := j.provider.DownloadAttachment(ctx, attachment.URL)
	if err != nil {
		j.emitLog(domain.SeverityWarning, "Failed to download attachment %s: %v", attachment.Filename, err)
		return stepFailed
	}
	defer body.Close()

	err = j.writeBuffered(dest, body)
	j.incrementCompleted()

	if err != nil {
		if removeErr := j.ws.Remove(dest); removeErr != nil {
			j.logger.Warn("failed to remove partial attachment",
				zap.String("job_id", j.id),
				zap.String("path", dest),
				zap.Error(removeErr))
		}
		j.emitLog(domain.SeverityWarning, "Failed to download attachment %s: %v", attachment.Filename, err)
		return stepFailed
	}

	j.emitLog(domain.SeveritySuccess, "Downloaded assignment: %s", attachment.Filename)
	return stepDownloaded
}

// allowTransfer debits the file-download budget. On the first denial
// the job latches limitHit so the remaining walk skips transfers
// without further provider calls.
func (j *Job) allowTransfer() bool {
	j.mu.Lock()
	hit := j.limitHit
	j.mu.Unlock()
	if hit {
		return false
	}

	allowed, remaining := j.limiter.TryConsume(j.clientID, ratelimit.BudgetFileDownload, 1)
	if !allowed {
		j.mu.Lock()
		j.limitHit = true
		j.mu.Unlock()
		j.emitLog(domain.SeverityWarning,
			"File download rate limit reached, skipping remaining transfers (remaining budget %d)", remaining)
	}
	return allowed
}

// writeBuffered copies the whole body in one pass.
func (j *Job) writeBuffered(dest string, body io.Reader) error {
	f, err := j.ws.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeChunked copies the body one chunk at a time, honoring the stop
// flag between chunks so a large in-flight transfer aborts promptly.
func (j *Job) writeChunked(dest string, body io.Reader) error {
	f, err := j.ws.Create(dest)
	if err != nil {
		return err
	}

	buf := make([]byte, j.config.ChunkSize)
	for {
		if j.Stopped() {
			f.Close()
			return errStopRequested
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				f.Close()
				return writeErr
			}
		}
		if readErr == io.EOF {
			return f.Close()
		}
		if readErr != nil {
			f.Close()
			return readErr
		}
	}
}

// itemSeverity downgrades per-item failures that the walk tolerates
// to warnings; anything else is an error line.
func itemSeverity(err error) domain.LogSeverity {
	if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrNotFound) || domain.IsSkippable(err) {
		return domain.SeverityWarning
	}
	return domain.SeverityError
}

// fail moves the job to its terminal error state.
func (j *Job) fail(message string) {
	j.setStatus(domain.StatusError)
	j.emitLog(domain.SeverityError, "%s", message)
}

func (j *Job) setStatus(s domain.JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *Job) setUser(u *domain.User) {
	j.mu.Lock()
	j.user = u
	j.mu.Unlock()
}

func (j *Job) currentUser() *domain.User {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.user
}

// setTotal sets the progress denominator.
func (j *Job) setTotal(total int) {
	j.mu.Lock()
	j.progress.Total = total
	snapshot := j.progress
	j.mu.Unlock()
	j.sink.EmitProgress(j.id, snapshot)
}

// setCurrentFile updates the in-flight item label.
func (j *Job) setCurrentFile(label string) {
	j.mu.Lock()
	j.progress.CurrentFile = label
	snapshot := j.progress
	j.mu.Unlock()
	j.sink.EmitProgress(j.id, snapshot)
}

// incrementCompleted counts one transfer attempt. Completed never
// decreases and never exceeds the attempts actually made.
func (j *Job) incrementCompleted() {
	j.mu.Lock()
	j.progress.Completed++
	snapshot := j.progress
	j.mu.Unlock()
	j.sink.EmitProgress(j.id, snapshot)
}

// emitLog sends one entry through the sink.
func (j *Job) emitLog(severity domain.LogSeverity, format string, args ...any) {
	j.sink.EmitLog(j.id, domain.LogEntry{
		Message:   fmt.Sprintf(format, args...),
		Severity:  severity,
		Timestamp: time.Now(),
	})
}
