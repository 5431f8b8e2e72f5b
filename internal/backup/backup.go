// Package backup writes encrypted snapshots of the SQLite database to
// S3-compatible storage and restores them.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "modernc.org/sqlite"

	"github.com/dukerupert/textblast/internal/media"
)

const keyTimeFormat = "20060102T150405Z"

// ErrNotConfigured is returned when no bucket or passphrase is set.
var ErrNotConfigured = errors.New("backup not configured: bucket and passphrase required")

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Config struct {
	S3         media.S3Config
	Prefix     string
	Passphrase string
	// Keep is how many snapshots Prune leaves in the bucket.
	Keep     int
	Interval time.Duration
}

func (c Config) Enabled() bool {
	return c.S3.Enabled() && c.Passphrase != ""
}

// Snapshot is one stored backup object.
type Snapshot struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type Archiver struct {
	db     *sql.DB
	cfg    Config
	client s3Client
	logger *slog.Logger
	now    func() time.Time
}

func NewArchiver(db *sql.DB, cfg Config, logger *slog.Logger) *Archiver {
	a := &Archiver{db: db, cfg: cfg, logger: logger, now: time.Now}
	if cfg.Enabled() {
		a.client = media.NewS3Client(cfg.S3)
	}
	if a.cfg.Keep <= 0 {
		a.cfg.Keep = 14
	}
	return a
}

func (a *Archiver) Enabled() bool {
	return a.client != nil && a.cfg.Passphrase != ""
}

func (a *Archiver) key(t time.Time) string {
	return a.cfg.Prefix + "textblast-" + t.UTC().Format(keyTimeFormat) + ".db.enc"
}

// Run takes a consistent copy of the live database with VACUUM INTO,
// encrypts it and uploads it.
func (a *Archiver) Run(ctx context.Context) (*Snapshot, error) {
	if !a.Enabled() {
		return nil, ErrNotConfigured
	}

	dir, err := os.MkdirTemp("", "textblast-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	copyPath := filepath.Join(dir, "snapshot.db")
	if _, err := a.db.ExecContext(ctx, `VACUUM INTO ?`, copyPath); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}
	plain, err := os.ReadFile(copyPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	sealed, err := seal(plain, a.cfg.Passphrase)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	snap := &Snapshot{Key: a.key(now), Size: int64(len(sealed)), CreatedAt: now}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.S3.Bucket),
		Key:           aws.String(snap.Key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(snap.Size),
	})
	if err != nil {
		return nil, fmt.Errorf("upload to s3: %w", err)
	}

	a.logger.Info("backup uploaded", "key", snap.Key, "bytes", snap.Size)
	return snap, nil
}

// List returns stored snapshots, newest first.
func (a *Archiver) List(ctx context.Context) ([]Snapshot, error) {
	if !a.Enabled() {
		return nil, ErrNotConfigured
	}

	var snaps []Snapshot
	var token *string
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.cfg.S3.Bucket),
			Prefix:            aws.String(a.cfg.Prefix + "textblast-"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			stamp := strings.TrimSuffix(strings.TrimPrefix(key, a.cfg.Prefix+"textblast-"), ".db.enc")
			created, err := time.Parse(keyTimeFormat, stamp)
			if err != nil {
				continue
			}
			snaps = append(snaps, Snapshot{Key: key, Size: aws.ToInt64(obj.Size), CreatedAt: created})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps, nil
}

// Prune deletes all but the newest Keep snapshots and returns how many it
// removed.
func (a *Archiver) Prune(ctx context.Context) (int, error) {
	snaps, err := a.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(snaps) <= a.cfg.Keep {
		return 0, nil
	}

	removed := 0
	for _, s := range snaps[a.cfg.Keep:] {
		if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.cfg.S3.Bucket),
			Key:    aws.String(s.Key),
		}); err != nil {
			a.logger.Error("delete backup", "key", s.Key, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Restore downloads and decrypts a snapshot, checks its integrity and
// replaces the database file at dbPath. The server must not be running.
func (a *Archiver) Restore(ctx context.Context, key, dbPath string) error {
	if !a.Enabled() {
		return ErrNotConfigured
	}

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.S3.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer out.Body.Close()

	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	plain, err := open(sealed, a.cfg.Passphrase)
	if err != nil {
		return err
	}

	tmp := dbPath + ".restore"
	if err := os.WriteFile(tmp, plain, 0o600); err != nil {
		return fmt.Errorf("write restored db: %w", err)
	}
	if err := checkIntegrity(ctx, tmp); err != nil {
		os.Remove(tmp)
		return err
	}

	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")
	if err := os.Rename(tmp, dbPath); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	a.logger.Info("backup restored", "key", key, "db", dbPath)
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
