package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	ipfsapi "github.com/ipfs/go-ipfs-api"
	"github.com/smartdevs17/inft-marketplace/internal/models"
)

// IPFSUploader adds metadata to a self-hosted IPFS node through its HTTP API.
type IPFSUploader struct {
	shell *ipfsapi.Shell
}

// NewIPFSUploader connects to the node API at url, e.g. localhost:5001.
func NewIPFSUploader(url string, timeout time.Duration) *IPFSUploader {
	shell := ipfsapi.NewShell(url)
	if timeout > 0 {
		shell.SetTimeout(timeout)
	}
	return &IPFSUploader{shell: shell}
}

// Upload adds and pins meta as a CIDv1 document
func (u *IPFSUploader) Upload(ctx context.Context, meta *models.AgentMetadata) (*UploadResult, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	type added struct {
		cid string
		err error
	}
	done := make(chan added, 1)
	go func() {
		cid, err := u.shell.Add(bytes.NewReader(body), ipfsapi.CidVersion(1), ipfsapi.Pin(true))
		done <- added{cid, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case a := <-done:
		if a.err != nil {
			return nil, fmt.Errorf("ipfs add failed: %w", a.err)
		}
		return &UploadResult{CID: a.cid, URI: "ipfs://" + a.cid}, nil
	}
}
