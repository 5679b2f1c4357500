// Package backup snapshots the SQLite database into encrypted objects in
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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"
)

const keyPrefix = "backups/"

// ErrNoPassphrase is returned when no encryption passphrase is configured.
var ErrNoPassphrase = errors.New("backup passphrase not configured")

// ObjectStore is the subset of the S3 client used for backups.
type ObjectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Manager writes and reads encrypted database snapshots.
type Manager struct {
	client     ObjectStore
	bucket     string
	passphrase string
	logger     *slog.Logger
	now        func() time.Time
}

func NewManager(client ObjectStore, bucket, passphrase string, logger *slog.Logger) *Manager {
	return &Manager{
		client:     client,
		bucket:     bucket,
		passphrase: passphrase,
		logger:     logger,
		now:        time.Now,
	}
}

// Run snapshots db, encrypts it, uploads it, and returns the object key.
func (m *Manager) Run(ctx context.Context, db *sql.DB) (string, error) {
	if m.passphrase == "" {
		return "", ErrNoPassphrase
	}

	tmpDir, err := os.MkdirTemp("", "taskie-backup-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, "snapshot.db")
	// VACUUM INTO produces a consistent copy even while the server is writing.
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		return "", fmt.Errorf("snapshot database: %w", err)
	}
	plaintext, err := os.ReadFile(snapshot)
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}

	sealed, err := Seal(plaintext, m.passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}

	key := keyPrefix + "taskie-" + m.now().UTC().Format("2006-01-02T150405Z") + ".db.enc"
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	m.logger.Info("backup uploaded", "key", key, "size", humanize.Bytes(uint64(len(sealed))))
	return key, nil
}

// Restore downloads the snapshot at key, decrypts it, checks its integrity,
// and writes it to dstPath. The server must not be running against dstPath.
func (m *Manager) Restore(ctx context.Context, key, dstPath string) error {
	if m.passphrase == "" {
		return ErrNoPassphrase
	}

	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	sealed, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	plaintext, err := Open(sealed, m.passphrase)
	if err != nil {
		return err
	}

	tmp := dstPath + ".restore"
	if err := os.WriteFile(tmp, plaintext, 0o600); err != nil {
		return fmt.Errorf("write restored db: %w", err)
	}
	defer os.Remove(tmp)

	if err := checkIntegrity(tmp); err != nil {
		return err
	}

	if err := os.Rename(tmp, dstPath); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	os.Remove(dstPath + "-wal")
	os.Remove(dstPath + "-shm")

	m.logger.Info("backup restored", "key", key, "path", dstPath)
	return nil
}

func checkIntegrity(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var integrity string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}
	return nil
}
