// Package backup uploads encrypted settings snapshots to S3-compatible
// storage and restores them through the settings import path.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	ErrDisabled   = errors.New("backups not configured: S3 credentials or passphrase missing")
	ErrInvalidKey = errors.New("backup key outside the backup prefix")
)

// s3Client is the subset of *s3.Client the manager uses.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Settings is satisfied by *settings.Service.
type Settings interface {
	Export(w io.Writer) error
	Import(r io.Reader) error
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Config struct {
	S3         S3Config
	Passphrase string
	Prefix     string        // object key prefix, default "settings/"
	Interval   time.Duration // scheduled backups; zero disables the schedule
	Keep       int           // newest backups kept by Cleanup; zero keeps all
}

func (c Config) enabled() bool {
	return c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != "" && c.Passphrase != ""
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	LastKey    string     `json:"last_key,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Object describes a stored backup.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	status Status
	client s3Client

	settings Settings
	logger   *slog.Logger
	now      func() time.Time

	// serializes backup runs
	runMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, settings Settings, logger *slog.Logger) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = "settings/"
	}
	m := &Manager{
		cfg:      cfg,
		settings: settings,
		logger:   logger,
		now:      time.Now,
		status:   Status{State: StateDisabled},
	}
	if cfg.enabled() {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Start runs Backup and Cleanup every Config.Interval until ctx ends or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.client == nil || m.cfg.Interval <= 0 {
		m.mu.Unlock()
		return
	}
	interval := m.cfg.Interval
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Backup(ctx); err != nil {
					m.logger.Error("scheduled backup", "error", err)
					continue
				}
				if err := m.Cleanup(ctx); err != nil {
					m.logger.Error("backup cleanup", "error", err)
				}
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Backup exports the settings, encrypts them and uploads the result. It
// returns the object key.
func (m *Manager) Backup(ctx context.Context) (string, error) {
	m.mu.RLock()
	client, bucket, prefix, passphrase := m.client, m.cfg.S3.Bucket, m.cfg.Prefix, m.cfg.Passphrase
	m.mu.RUnlock()
	if client == nil {
		return "", ErrDisabled
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	prev := m.Status()
	m.setStatus(Status{State: StateRunning, LastBackup: prev.LastBackup, LastKey: prev.LastKey})

	fail := func(err error) (string, error) {
		m.setStatus(Status{State: StateError, LastBackup: prev.LastBackup, LastKey: prev.LastKey, Error: err.Error()})
		return "", err
	}

	var doc bytes.Buffer
	if err := m.settings.Export(&doc); err != nil {
		return fail(fmt.Errorf("export settings: %w", err))
	}
	enc, err := Encrypt(doc.Bytes(), passphrase)
	if err != nil {
		return fail(fmt.Errorf("encrypt: %w", err))
	}

	now := m.now().UTC()
	key := prefix + "settings-" + now.Format("2006-01-02T150405.000Z") + ".json.enc"
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(enc),
		ContentLength: aws.Int64(int64(len(enc))),
	})
	if err != nil {
		return fail(fmt.Errorf("upload to s3: %w", err))
	}

	m.setStatus(Status{State: StateIdle, LastBackup: &now, LastKey: key})
	m.logger.Info("settings backed up", "key", key, "bytes", len(enc))
	return key, nil
}

// Restore downloads and decrypts a backup, then imports it. The import
// validates the document, so a corrupt or foreign backup leaves the
// settings untouched.
func (m *Manager) Restore(ctx context.Context, key string) error {
	m.mu.RLock()
	client, bucket, prefix, passphrase := m.client, m.cfg.S3.Bucket, m.cfg.Prefix, m.cfg.Passphrase
	m.mu.RUnlock()
	if client == nil {
		return ErrDisabled
	}
	if !strings.HasPrefix(key, prefix) || strings.Contains(key, "..") {
		return ErrInvalidKey
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	plaintext, err := Decrypt(data, passphrase)
	if err != nil {
		return fmt.Errorf("decrypt backup: %w", err)
	}
	if err := m.settings.Import(bytes.NewReader(plaintext)); err != nil {
		return fmt.Errorf("import backup: %w", err)
	}

	m.logger.Info("settings restored", "key", key)
	return nil
}

// List returns stored backups, newest first.
func (m *Manager) List(ctx context.Context) ([]Object, error) {
	m.mu.RLock()
	client, bucket, prefix := m.client, m.cfg.S3.Bucket, m.cfg.Prefix
	m.mu.RUnlock()
	if client == nil {
		return nil, ErrDisabled
	}

	var objects []Object
	var token *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, o := range out.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	// keys embed the timestamp, so they sort chronologically
	slices.SortFunc(objects, func(a, b Object) int { return strings.Compare(b.Key, a.Key) })
	return objects, nil
}

// Cleanup deletes all but the newest Config.Keep backups.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.RLock()
	client, bucket, keep := m.client, m.cfg.S3.Bucket, m.cfg.Keep
	m.mu.RUnlock()
	if client == nil || keep <= 0 {
		return nil
	}

	objects, err := m.List(ctx)
	if err != nil {
		return err
	}
	if len(objects) <= keep {
		return nil
	}
	for _, o := range objects[keep:] {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(o.Key),
		}); err != nil {
			m.logger.Warn("delete old backup", "key", o.Key, "error", err)
		}
	}
	return nil
}
