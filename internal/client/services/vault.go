// Package services contains application services for the CryptexDrive
// client. This file defines the vault service: listing, uploading and
// downloading the user's files through the secure gateway.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/cryptexdrive/cryptexdrive/internal/client/api"
	"github.com/cryptexdrive/cryptexdrive/internal/client/gateway"
	"github.com/cryptexdrive/cryptexdrive/internal/filex"
)

// DownloadedFile pairs the raw bytes of a download with the name the server
// knows it by, for client-side save.
type DownloadedFile struct {
	Name string
	Data []byte
}

// VaultService defines the file operations available to an authorized user.
//
// Contract:
//   - List: names of the user's files, in server order; empty slice, not an
//     error, when the user owns nothing.
//   - Upload: multipart upload of a non-empty payload; the result carries
//     the server's status and, when present, the opaque risk score.
//   - Download: raw bytes plus the original name.
//   - SaveDownload: write a downloaded file under the local downloads dir.
//
// All methods must honor context cancellation/timeouts.
type VaultService interface {
	List(ctx context.Context) ([]string, error)
	Upload(ctx context.Context, name string, payload []byte) (*api.UploadResult, error)
	Download(ctx context.Context, name string) (*DownloadedFile, error)
	SaveDownload(f *DownloadedFile) (string, error)
}

// vaultService is the concrete VaultService. It holds no credential of its
// own: every remote call goes through the gateway, which attaches the
// current credential and owns the rejection handling.
type vaultService struct {
	client      api.Client
	gw          *gateway.Gateway
	downloadDir string
}

// NewVaultService constructs a VaultService bound to the given API client
// and gateway. downloadDir is the subdirectory downloads are saved under.
func NewVaultService(client api.Client, gw *gateway.Gateway, downloadDir string) VaultService {
	return &vaultService{client: client, gw: gw, downloadDir: downloadDir}
}

func (v *vaultService) List(ctx context.Context) ([]string, error) {
	var names []string
	err := v.gw.Invoke(ctx, func(ctx context.Context, token string) error {
		var err error
		names, err = v.client.ListFiles(ctx, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (v *vaultService) Upload(ctx context.Context, name string, payload []byte) (*api.UploadResult, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: file name is required", api.ErrValidation)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: refusing to upload an empty file", api.ErrValidation)
	}

	var res *api.UploadResult
	err := v.gw.Invoke(ctx, func(ctx context.Context, token string) error {
		var err error
		res, err = v.client.Upload(ctx, token, name, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (v *vaultService) Download(ctx context.Context, name string) (*DownloadedFile, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: file name is required", api.ErrValidation)
	}

	var data []byte
	err := v.gw.Invoke(ctx, func(ctx context.Context, token string) error {
		var err error
		data, err = v.client.Download(ctx, token, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &DownloadedFile{Name: name, Data: data}, nil
}

func (v *vaultService) SaveDownload(f *DownloadedFile) (string, error) {
	dir, err := filex.EnsureSubDir(v.downloadDir)
	if err != nil {
		return "", err
	}
	path := filex.UniquePath(dir, f.Name)
	if err := filex.WriteFile(path, f.Data); err != nil {
		return "", err
	}
	return path, nil
}
