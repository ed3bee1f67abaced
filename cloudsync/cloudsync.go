// Package cloudsync implements an optional, off-by-default periodic
// backup of config.ini: the file is hybrid-encrypted (AES-256-CBC, key
// wrapped under RSA-OAEP) under the operator-configured public key and
// POSTed to an HTTP endpoint, or put directly to an S3-compatible bucket
// if one is configured instead.
package cloudsync

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/mblakley/soccer-cam-go/config"
	gocrypto "github.com/mblakley/soccer-cam-go/crypto"
	"github.com/mblakley/soccer-cam-go/log"
	"github.com/mblakley/soccer-cam-go/metrics"
)

// Syncer periodically uploads an encrypted snapshot of config.ini.
type Syncer struct {
	configPath string
	cfg        config.CloudSyncConfig
	publicKey  *rsa.PublicKey
	httpClient *http.Client
	s3Client   *s3.S3
}

// New builds a Syncer from the parsed [CLOUD_SYNC] section. Returns
// (nil, nil) if the feature is disabled, so callers can skip launching the
// goroutine entirely rather than special-casing a no-op Syncer.
func New(configPath string, cfg config.CloudSyncConfig) (*Syncer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.PublicKey == "" {
		return nil, fmt.Errorf("cloud sync enabled but public_key is not set")
	}
	publicKey, err := gocrypto.LoadPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("loading cloud sync public key: %w", err)
	}

	s := &Syncer{configPath: configPath, cfg: cfg, publicKey: publicKey}

	if cfg.S3Bucket != "" {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.S3Region)})
		if err != nil {
			return nil, fmt.Errorf("creating S3 session: %w", err)
		}
		s.s3Client = s3.New(sess)
	} else {
		client := retryablehttp.NewClient()
		client.RetryMax = 3
		client.RetryWaitMin = 1 * time.Second
		client.RetryWaitMax = 10 * time.Second
		client.Logger = nil
		s.httpClient = client.StandardClient()
		s.httpClient.Timeout = 30 * time.Second
	}

	return s, nil
}

// Run ticks at the configured interval, pushing one backup per tick until
// ctx is canceled. A failed attempt is logged and metered, never fatal.
func (s *Syncer) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Duration(config.DefaultCloudSyncIntervalSeconds) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.SyncOnce(ctx); err != nil {
			log.LogNoRequestID("cloudsync: backup failed", "err", err)
			metrics.Metrics.CloudSyncFailureCount.Inc()
		} else {
			metrics.Metrics.CloudSyncSuccessCount.Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce performs a single encrypted backup of config.ini.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	plaintext, err := os.ReadFile(s.configPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.configPath, err)
	}

	payload, err := gocrypto.BuildCloudSyncPayload(s.cfg.Username, plaintext, s.publicKey)
	if err != nil {
		return fmt.Errorf("encrypting config backup: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling backup payload: %w", err)
	}

	if s.s3Client != nil {
		return s.putS3(ctx, body)
	}
	return s.postHTTP(ctx, body)
}

func (s *Syncer) putS3(ctx context.Context, body []byte) error {
	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.S3Bucket),
		Key:    aws.String(s.cfg.S3Key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("uploading backup to s3://%s/%s: %w", s.cfg.S3Bucket, s.cfg.S3Key, err)
	}
	return nil
}

func (s *Syncer) postHTTP(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building backup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting backup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("backup endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}
