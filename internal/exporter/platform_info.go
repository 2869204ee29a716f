package exporter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjacquet/archer_ops/internal/archer"
	"github.com/fjacquet/archer_ops/internal/models"
	log "github.com/sirupsen/logrus"
)

// RetryConfig controls the retries of platform detection.
type RetryConfig struct {
	MaxAttempts   int           // Maximum number of attempts
	InitialDelay  time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig tries 3 times starting at 1s, doubling up to 10s.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  1 * time.Second,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
}

// PlatformInfo identifies the cluster behind the platform URL.
type PlatformInfo struct {
	ClusterID string
	ArchType  string
}

// PlatformDetector reads the cluster identity from the license endpoint.
type PlatformDetector struct {
	client      PlatformClient
	retryConfig RetryConfig
}

// NewPlatformDetector creates a detector with DefaultRetryConfig.
func NewPlatformDetector(client PlatformClient) *PlatformDetector {
	return &PlatformDetector{client: client, retryConfig: DefaultRetryConfig}
}

// Detect logs in when needed and returns the cluster identity.
//
// Authentication failures and business errors fail at once since retrying
// cannot fix them. Network errors and 5xx answers are retried with
// exponential backoff.
func (d *PlatformDetector) Detect(ctx context.Context) (PlatformInfo, error) {
	var info models.ClusterInfo
	attempt := 0
	op := func() error {
		attempt++
		if !d.client.IsLoggedIn() {
			if err := d.client.Login(ctx); err != nil {
				return classifyDetectError(err)
			}
		}
		var err error
		info, err = d.client.ClusterInfo(ctx)
		if err != nil {
			log.Debugf("Platform detection attempt %d/%d failed: %v", attempt, d.retryConfig.MaxAttempts, err)
			return classifyDetectError(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryConfig.InitialDelay
	b.MaxInterval = d.retryConfig.MaxDelay
	b.Multiplier = d.retryConfig.BackoffFactor
	b.MaxElapsedTime = 0
	retries := uint64(0)
	if d.retryConfig.MaxAttempts > 1 {
		retries = uint64(d.retryConfig.MaxAttempts - 1)
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)); err != nil {
		return PlatformInfo{}, fmt.Errorf("failed to detect platform at %s after %d attempt(s): %w", d.client.BaseURL(), attempt, err)
	}
	log.Infof("Detected platform cluster %s (%s)", info.ClusterID, info.ArchType)
	return PlatformInfo{ClusterID: info.ClusterID, ArchType: info.ArchType}, nil
}

func classifyDetectError(err error) error {
	var httpErr *archer.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusUnauthorized, httpErr.StatusCode == http.StatusForbidden:
			log.Errorf("Authentication failed (HTTP %d). Please verify the platform credentials.", httpErr.StatusCode)
			return backoff.Permanent(err)
		case httpErr.StatusCode >= http.StatusInternalServerError:
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	if archer.IsBusinessError(err) || errors.Is(err, archer.ErrLoginIncomplete) {
		return backoff.Permanent(err)
	}
	return err
}
