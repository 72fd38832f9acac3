// Package ociclient pulls and pushes conda subdir content (repodata.json
// and package archives) to and from OCI registries, generalizing a
// single-environment publish/browse flow to arbitrary, per-filename
// conda archive layers.
package ociclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/file"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

const (
	// MediaTypeRepodata is the media type for a subdir's repodata.json layer.
	MediaTypeRepodata = "application/vnd.conda.repodata.v1+json"
	// MediaTypePackageConda is the media type for a .conda package archive layer.
	MediaTypePackageConda = "application/vnd.conda.package.v1"
	// MediaTypePackageTarBz2 is the media type for a legacy .tar.bz2 package archive layer.
	MediaTypePackageTarBz2 = "application/vnd.conda.package.v1+tarbz2"
	// MediaTypeChannelConfig is the media type for the (empty) manifest config blob.
	MediaTypeChannelConfig = "application/vnd.conda.channel.config.v1+json"
)

// Credential is the auth material used to authenticate to a registry.
type Credential struct {
	Username string
	Password string
}

// Client talks to one OCI registry on behalf of a conda channel.
type Client struct {
	PlainHTTP bool
}

// New builds an ociclient.Client. plainHTTP disables TLS, for talking to
// a local test registry.
func New(plainHTTP bool) *Client {
	return &Client{PlainHTTP: plainHTTP}
}

func (c *Client) repository(ref string, cred Credential) (*remote.Repository, error) {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("ociclient: parsing reference %s: %w", ref, err)
	}
	repo.PlainHTTP = c.PlainHTTP
	repo.Client = &auth.Client{
		Credential: auth.StaticCredential(registryHost(ref), auth.Credential{
			Username: cred.Username,
			Password: cred.Password,
		}),
	}
	return repo, nil
}

func registryHost(ref string) string {
	parts := strings.SplitN(ref, "/", 2)
	return parts[0]
}

// IsOCIChannel reports whether a channel base URL uses the "oci://"
// scheme, the signal the gateway uses to dispatch through this package
// instead of plain HTTP.
func IsOCIChannel(channel string) bool {
	return strings.HasPrefix(channel, "oci://")
}

// StripScheme removes the "oci://" prefix, returning the bare
// "host/namespace/repo" reference oras expects.
func StripScheme(channel string) string {
	return strings.TrimPrefix(channel, "oci://")
}

// FetchSubdirManifest resolves tag (e.g. "linux-64") in repository ref
// and returns the manifest describing its repodata.json and package
// archive layers.
func (c *Client) FetchSubdirManifest(ctx context.Context, ref, tag string, cred Credential) (ocispec.Manifest, error) {
	repo, err := c.repository(ref, cred)
	if err != nil {
		return ocispec.Manifest{}, err
	}

	desc, err := repo.Resolve(ctx, tag)
	if err != nil {
		return ocispec.Manifest{}, fmt.Errorf("ociclient: resolving %s:%s: %w", ref, tag, err)
	}

	rc, err := repo.Fetch(ctx, desc)
	if err != nil {
		return ocispec.Manifest{}, fmt.Errorf("ociclient: fetching manifest %s:%s: %w", ref, tag, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return ocispec.Manifest{}, fmt.Errorf("ociclient: reading manifest %s:%s: %w", ref, tag, err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return ocispec.Manifest{}, fmt.Errorf("ociclient: parsing manifest %s:%s: %w", ref, tag, err)
	}
	return manifest, nil
}

// FetchLayer streams one layer by digest, verifying its content as it is
// read so a truncated or corrupted transfer surfaces as an error instead
// of silently short-reading.
func (c *Client) FetchLayer(ctx context.Context, ref string, desc ocispec.Descriptor, cred Credential) (io.ReadCloser, error) {
	repo, err := c.repository(ref, cred)
	if err != nil {
		return nil, err
	}

	rc, err := repo.Fetch(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("ociclient: fetching layer %s from %s: %w", desc.Digest, ref, err)
	}
	return &verifyingReadCloser{rc: rc, verifier: desc.Digest.Verifier()}, nil
}

type verifyingReadCloser struct {
	rc       io.ReadCloser
	verifier digest.Verifier
}

func (v *verifyingReadCloser) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	if n > 0 {
		v.verifier.Write(p[:n])
	}
	if err == io.EOF && !v.verifier.Verified() {
		return n, fmt.Errorf("ociclient: layer content does not match its digest")
	}
	return n, err
}

func (v *verifyingReadCloser) Close() error { return v.rc.Close() }

// PackageLayer is one archive to push as a layer when publishing package
// archives for a subdir.
type PackageLayer struct {
	FileName  string
	MediaType string
	Data      []byte
}

// PushSubdir publishes a subdir's repodata.json plus every package
// archive layer to ref:tag: file store -> oras.Pack -> oras.CopyGraph ->
// repo.Tag, with an arbitrary number of package layers instead of two
// fixed ones.
func (c *Client) PushSubdir(ctx context.Context, ref, tag string, repodataJSON []byte, layers []PackageLayer, cred Credential) (string, error) {
	workDir, err := os.MkdirTemp("", "rattler-oci-push-*")
	if err != nil {
		return "", fmt.Errorf("ociclient: creating staging directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	fs, err := file.New(workDir)
	if err != nil {
		return "", fmt.Errorf("ociclient: creating file store: %w", err)
	}
	defer fs.Close()

	descs := make([]ocispec.Descriptor, 0, len(layers)+1)

	repoDesc, err := pushBytes(ctx, fs, "repodata.json", MediaTypeRepodata, repodataJSON)
	if err != nil {
		return "", err
	}
	descs = append(descs, repoDesc)

	for _, l := range layers {
		desc, err := pushBytes(ctx, fs, l.FileName, l.MediaType, l.Data)
		if err != nil {
			return "", err
		}
		descs = append(descs, desc)
	}

	configData := []byte("{}")
	configDesc := ocispec.Descriptor{
		MediaType: MediaTypeChannelConfig,
		Digest:    digest.FromBytes(configData),
		Size:      int64(len(configData)),
	}
	if err := fs.Push(ctx, configDesc, bytes.NewReader(configData)); err != nil {
		return "", fmt.Errorf("ociclient: pushing config: %w", err)
	}

	manifestDesc, err := oras.Pack(ctx, fs, "", descs, oras.PackOptions{
		ConfigDescriptor:  &configDesc,
		PackImageManifest: true,
		ManifestAnnotations: map[string]string{
			ocispec.AnnotationDescription: fmt.Sprintf("%s:%s", ref, tag),
		},
	})
	if err != nil {
		return "", fmt.Errorf("ociclient: packing manifest: %w", err)
	}

	repo, err := c.repository(ref, cred)
	if err != nil {
		return "", err
	}

	copyOpts := oras.DefaultCopyGraphOptions
	copyOpts.Concurrency = 4
	if err := oras.CopyGraph(ctx, fs, repo, manifestDesc, copyOpts); err != nil {
		return "", fmt.Errorf("ociclient: pushing to registry: %w", err)
	}

	if err := repo.Tag(ctx, manifestDesc, tag); err != nil {
		return "", fmt.Errorf("ociclient: tagging %s:%s: %w", ref, tag, err)
	}

	return manifestDesc.Digest.String(), nil
}

func pushBytes(ctx context.Context, fs *file.Store, name, mediaType string, data []byte) (ocispec.Descriptor, error) {
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
		Annotations: map[string]string{
			ocispec.AnnotationTitle: name,
		},
	}
	if err := fs.Push(ctx, desc, bytes.NewReader(data)); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("ociclient: pushing %s: %w", name, err)
	}
	return desc, nil
}
