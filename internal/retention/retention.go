// Package retention implements the GFS (grandfather-father-son) retention
// planner and the two-phase deletion it drives: Plan computes a
// keep/delete set without touching storage, Apply deletes ciphertext
// objects exclusively owned by to-be-deleted backups and then their
// manifests.
package retention

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	skerrors "github.com/nullmedev/skylock/internal/errors"
	"github.com/nullmedev/skylock/internal/log"
	"github.com/nullmedev/skylock/internal/storage"
)

// GFS holds the grandfather-father-son bucket counts. Each count
// retains the newest backup within that many of the most recent distinct
// buckets of its granularity; a zero count disables that bucket entirely.
type GFS struct {
	Hourly  int
	Daily   int
	Weekly  int
	Monthly int
	Yearly  int
}

// Policy combines every retention rule the planner considers. A backup is
// kept if any rule keeps it; MinKeep is a hard floor applied after every
// other rule has run.
type Policy struct {
	KeepLast int
	KeepDays int
	GFS      GFS
	MinKeep  int
}

func (p Policy) minKeep() int {
	if p.MinKeep <= 0 {
		return 3
	}
	return p.MinKeep
}

// Backup is one discovered backup eligible for retention.
type Backup struct {
	BackupID     string
	Timestamp    time.Time
	ManifestPath string
}

// Result is the outcome of evaluating a Policy against a set of backups,
// reported to the caller before anything is deleted.
type Result struct {
	Keep   []Backup
	Delete []Backup
}

// backupIDLayout matches the backup_YYYYMMDD_HHMMSS id grammar.
const backupIDLayout = "20060102_150405"

// ParseBackupID extracts the UTC timestamp encoded in a backup_id string.
func ParseBackupID(backupID string) (time.Time, error) {
	rest := strings.TrimPrefix(backupID, "backup_")
	t, err := time.Parse(backupIDLayout, rest)
	if err != nil {
		return time.Time{}, skerrors.NewValidationError("backup_id", "does not match backup_YYYYMMDD_HHMMSS")
	}
	return t.UTC(), nil
}

// Discover lists every manifest under backupRoot and returns one Backup per
// discovered backup_id, sorted newest first. Backends that cannot parse a
// directory's name as a backup_id are skipped rather than failing the whole
// listing, since a foreign object under backupRoot is not this engine's to
// interpret.
func Discover(ctx context.Context, backend storage.Backend, backupRoot string) ([]Backup, error) {
	objects, err := backend.List(ctx, backupRoot, true)
	if err != nil {
		return nil, err
	}

	var backups []Backup
	for _, obj := range objects {
		if path.Base(obj.RemotePath) != "manifest.json" {
			continue
		}
		dir := path.Dir(obj.RemotePath)
		backupID := path.Base(dir)
		ts, err := ParseBackupID(backupID)
		if err != nil {
			continue
		}
		backups = append(backups, Backup{
			BackupID:     backupID,
			Timestamp:    ts,
			ManifestPath: obj.RemotePath,
		})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].Timestamp.After(backups[j].Timestamp) })
	return backups, nil
}

// Plan evaluates policy against backups (already sorted or not; Plan sorts
// its own copy newest-first) and returns the keep/delete partition. It
// never touches storage and is safe to call repeatedly for dry-run
// reporting.
func Plan(backups []Backup, policy Policy, now time.Time) Result {
	ordered := make([]Backup, len(backups))
	copy(ordered, backups)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp.After(ordered[j].Timestamp) })

	keep := make(map[string]bool, len(ordered))

	for i, b := range ordered {
		if policy.KeepLast > 0 && i < policy.KeepLast {
			keep[b.BackupID] = true
		}
		if policy.KeepDays > 0 && now.Sub(b.Timestamp) <= time.Duration(policy.KeepDays)*24*time.Hour {
			keep[b.BackupID] = true
		}
	}

	applyBucket(ordered, keep, policy.GFS.Hourly, hourlyBucket)
	applyBucket(ordered, keep, policy.GFS.Daily, dailyBucket)
	applyBucket(ordered, keep, policy.GFS.Weekly, weeklyBucket)
	applyBucket(ordered, keep, policy.GFS.Monthly, monthlyBucket)
	applyBucket(ordered, keep, policy.GFS.Yearly, yearlyBucket)

	enforceMinKeep(ordered, keep, policy.minKeep())

	var result Result
	for _, b := range ordered {
		if keep[b.BackupID] {
			result.Keep = append(result.Keep, b)
		} else {
			result.Delete = append(result.Delete, b)
		}
	}
	return result
}

// applyBucket keeps the newest backup within each of the maxBuckets most
// recent distinct buckets produced by bucketFn. ordered must be sorted
// newest-first so the first backup seen for a bucket is its newest.
func applyBucket(ordered []Backup, keep map[string]bool, maxBuckets int, bucketFn func(time.Time) string) {
	if maxBuckets <= 0 {
		return
	}
	seen := make(map[string]bool)
	for _, b := range ordered {
		if len(seen) >= maxBuckets {
			return
		}
		key := bucketFn(b.Timestamp)
		if seen[key] {
			continue
		}
		seen[key] = true
		keep[b.BackupID] = true
	}
}

func hourlyBucket(t time.Time) string {
	return t.Format("2006-01-02T15")
}

func dailyBucket(t time.Time) string {
	return t.Format("2006-01-02")
}

func weeklyBucket(t time.Time) string {
	year, week := t.ISOWeek()
	return strconv.Itoa(year) + "-W" + strconv.Itoa(week)
}

func monthlyBucket(t time.Time) string {
	return t.Format("2006-01")
}

func yearlyBucket(t time.Time) string {
	return t.Format("2006")
}

// enforceMinKeep restores the newest not-yet-kept backups, oldest rule
// decisions first, until the keep set reaches the floor. The engine refuses
// to delete below this count even if every other rule disagrees.
func enforceMinKeep(ordered []Backup, keep map[string]bool, minKeep int) {
	kept := 0
	for _, b := range ordered {
		if keep[b.BackupID] {
			kept++
		}
	}
	if minKeep >= len(ordered) {
		for _, b := range ordered {
			keep[b.BackupID] = true
		}
		return
	}
	if kept >= minKeep {
		return
	}
	for _, b := range ordered {
		if kept >= minKeep {
			break
		}
		if !keep[b.BackupID] {
			keep[b.BackupID] = true
			kept++
		}
	}
}

// ApplyOptions configures a deletion pass.
type ApplyOptions struct {
	Backend    storage.Backend
	BackupRoot string
	Plan       Result
	Force      bool // skip the confirmation gate; callers normally surface Plan.Delete to a human first
	Logger     log.Logger
}

func (o *ApplyOptions) logger() log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.GetLogger()
}

// ApplyResult reports what the deletion pass actually removed.
type ApplyResult struct {
	DeletedBackups []string
	DeletedObjects int
}

// Apply deletes every ciphertext object under each to-be-deleted backup's
// own prefix, then its manifest. A backup never references another
// backup's ciphertext, so deleting its prefix cannot orphan a kept
// backup's data;
// there is no "referenced exclusively by" set to compute beyond "does this
// object live under this backup_id's prefix".
func Apply(ctx context.Context, opts *ApplyOptions) (*ApplyResult, error) {
	if !opts.Force {
		return nil, skerrors.ErrConfirmationRequired
	}

	result := &ApplyResult{}
	for _, b := range opts.Plan.Delete {
		prefix := path.Join(opts.BackupRoot, b.BackupID)
		objects, err := opts.Backend.List(ctx, prefix, true)
		if err != nil {
			return result, err
		}

		for _, obj := range objects {
			if path.Base(obj.RemotePath) == "manifest.json" {
				continue
			}
			if err := opts.Backend.Delete(ctx, obj.RemotePath); err != nil {
				return result, skerrors.NewFileError("delete", obj.RemotePath, err)
			}
			result.DeletedObjects++
		}

		if err := opts.Backend.Delete(ctx, b.ManifestPath); err != nil {
			return result, skerrors.NewFileError("delete", b.ManifestPath, err)
		}
		result.DeletedBackups = append(result.DeletedBackups, b.BackupID)

		opts.logger().Info("retention deleted backup",
			log.String("backup_id", b.BackupID),
			log.Int("objects", len(objects)),
		)
	}

	return result, nil
}
