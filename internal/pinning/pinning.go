// Package pinning uploads agent metadata to IPFS before it is minted.
package pinning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/config"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// DefaultTimeout bounds a metadata upload.
const DefaultTimeout = 5 * time.Second

// FallbackPrefix starts the placeholder URI used when an upload fails.
const FallbackPrefix = "fallback://metadata/"

// ErrNotConfigured is returned by the no-op uploader.
var ErrNotConfigured = errors.New("metadata pinning is not configured")

// UploadResult is a pinned document.
type UploadResult struct {
	CID      string `json:"cid,omitempty"`
	URI      string `json:"uri"`
	Fallback bool   `json:"fallback"`
}

// Uploader pins a metadata document and returns its content address.
type Uploader interface {
	Upload(ctx context.Context, meta *models.AgentMetadata) (*UploadResult, error)
}

// FallbackURI is the placeholder reference for an upload that did not complete.
func FallbackURI(now time.Time) string {
	return fmt.Sprintf("%s%d", FallbackPrefix, now.UnixMilli())
}

// UploadWithFallback uploads meta within timeout. Any failure, including the
// timeout, yields a fallback URI instead of an error so minting can proceed.
func UploadWithFallback(ctx context.Context, up Uploader, meta *models.AgentMetadata, timeout time.Duration) *UploadResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := utils.ComponentLogger("pinning")

	if up != nil {
		uploadCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type outcome struct {
			res *UploadResult
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			res, err := up.Upload(uploadCtx, meta)
			done <- outcome{res, err}
		}()

		var err error
		select {
		case o := <-done:
			if o.err == nil && o.res != nil && o.res.URI != "" {
				logger.WithFields(logrus.Fields{"cid": o.res.CID, "uri": o.res.URI}).Info("Metadata pinned")
				return o.res
			}
			err = o.err
		case <-uploadCtx.Done():
			err = uploadCtx.Err()
		}
		logger.WithError(err).WithField("timeout", timeout).Warn("Metadata upload failed, using fallback URI")
	}

	return &UploadResult{URI: FallbackURI(time.Now()), Fallback: true}
}

// NewUploader builds the uploader selected by configuration. Provider "none"
// returns nil, which makes every upload use the fallback URI.
func NewUploader(cfg *config.PinningConfig) (Uploader, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "pinata":
		if cfg.JWT == "" && (cfg.APIKey == "" || cfg.APISecret == "") {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Pinata requires a JWT or an API key and secret", "")
		}
		return NewPinataUploader(PinataConfig{
			Endpoint:  cfg.Endpoint,
			JWT:       cfg.JWT,
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Timeout:   cfg.Timeout,
		}), nil
	case "ipfs":
		if cfg.IPFSURL == "" {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "IPFS API url is required", "")
		}
		return NewIPFSUploader(cfg.IPFSURL, cfg.Timeout), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Unsupported pinning provider", cfg.Provider)
	}
}
