// Package download fetches WebDriver binaries: ChromeDriver from the Chrome
// for Testing bucket and GeckoDriver from its GitHub releases.
package download

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/golang/glog"
	"github.com/google/go-github/v27/github"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

// File describes how to download a file from the Web.
type File struct {
	URL  string
	Name string
	// Hash is the hex encoded digest of the download. Empty skips the check.
	Hash     string
	HashType string // md5, sha1 or sha256 (default)
	// Rename moves Rename[0] to Rename[1] after unpacking, both relative to
	// the download directory.
	Rename []string

	// The directory in which to store the file.
	directory string
}

// Path is where the file is stored.
func (f File) Path() string {
	if f.directory != "" {
		return filepath.Join(f.directory, f.Name)
	}
	return f.Name
}

// Platforms known to Chrome for Testing.
const (
	Linux64  = "linux64"
	MacX64   = "mac-x64"
	MacArm64 = "mac-arm64"
	Win32    = "win32"
	Win64    = "win64"
)

// ChromeForTestingBucket holds ChromeDriver builds matching each Chrome
// release.
const ChromeForTestingBucket = "chrome-for-testing-public"

// HTTPClient is used for the downloads themselves.
var HTTPClient = http.DefaultClient

func executable(platform, name string) string {
	if strings.HasPrefix(platform, "win") {
		return name + ".exe"
	}
	return name
}

// ChromeDriverFile resolves the ChromeDriver archive for a Chrome version,
// e.g. "120.0.6099.109". An empty version means the latest stable release.
// The bucket is read anonymously unless opts say otherwise.
func ChromeDriverFile(ctx context.Context, version, platform string, opts ...option.ClientOption) (File, error) {
	gcsPath := fmt.Sprintf("gs://%s/", ChromeForTestingBucket)
	client, err := storage.NewClient(ctx, append([]option.ClientOption{option.WithoutAuthentication()}, opts...)...)
	if err != nil {
		return File{}, fmt.Errorf("cannot create a storage client for downloading chromedriver: %v", err)
	}
	defer client.Close()

	bkt := client.Bucket(ChromeForTestingBucket)
	if version == "" {
		const latestFile = "LATEST_RELEASE_STABLE"
		r, err := bkt.Object(latestFile).NewReader(ctx)
		if err != nil {
			return File{}, fmt.Errorf("cannot create a reader for %s%s: %v", gcsPath, latestFile, err)
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return File{}, fmt.Errorf("cannot read from %s%s: %v", gcsPath, latestFile, err)
		}
		version = strings.TrimSpace(string(data))
	}

	dir := "chromedriver-" + platform
	object := path.Join(version, platform, dir+".zip")
	attrs, err := bkt.Object(object).Attrs(ctx)
	if err != nil {
		return File{}, fmt.Errorf("cannot get the chromedriver package %s%s attrs: %v", gcsPath, object, err)
	}
	name := executable(platform, "chromedriver")
	return File{
		Name:     "chromedriver.zip",
		URL:      attrs.MediaLink,
		Hash:     hex.EncodeToString(attrs.MD5),
		HashType: "md5",
		Rename:   []string{path.Join(dir, name), name},
	}, nil
}

var geckoAssetSuffix = map[string]string{
	Linux64:  "linux64.tar.gz",
	MacX64:   "macos.tar.gz",
	MacArm64: "macos-aarch64.tar.gz",
	Win32:    "win32.zip",
	Win64:    "win64.zip",
}

// LatestGeckoDriverFile resolves the GeckoDriver archive of the latest
// release. A nil client uses the unauthenticated GitHub API.
func LatestGeckoDriverFile(ctx context.Context, platform string, client *github.Client) (File, error) {
	suffix, ok := geckoAssetSuffix[platform]
	if !ok {
		return File{}, fmt.Errorf("no geckodriver build for platform %q", platform)
	}
	if client == nil {
		client = github.NewClient(nil)
	}

	const owner, repo = "mozilla", "geckodriver"
	rel, _, err := client.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		return File{}, err
	}
	assetName := regexp.MustCompile(`^geckodriver-v[\d.]+-` + regexp.QuoteMeta(suffix) + `$`)
	for _, a := range rel.Assets {
		if !assetName.MatchString(a.GetName()) {
			continue
		}
		u := a.GetBrowserDownloadURL()
		if u == "" {
			return File{}, fmt.Errorf("%s does not have a download URL", a.GetName())
		}
		return File{
			Name: "geckodriver-" + suffix,
			URL:  u,
		}, nil
	}
	return File{}, fmt.Errorf("release %s of https://github.com/%s/%s has no %s asset", rel.GetTagName(), owner, repo, suffix)
}

// Download fetches a file unless a copy with the expected hash is already
// present, unpacks it and applies Rename. An empty directory is the current
// directory.
func Download(ctx context.Context, file File, directory string) error {
	file.directory = directory

	if file.Hash != "" && fileSameHash(file) {
		glog.Infof("Skipping file %q which has already been downloaded.", file.Name)
	} else {
		glog.Infof("Downloading %q from %q", file.Name, file.URL)
		if err := downloadFile(ctx, file); err != nil {
			return err
		}
	}

	if err := unpack(file); err != nil {
		return err
	}

	if rename := file.Rename; len(rename) == 2 {
		from := filepath.Join(file.directory, filepath.FromSlash(rename[0]))
		to := filepath.Join(file.directory, filepath.FromSlash(rename[1]))
		glog.Infof("Renaming %q to %q", from, to)
		os.RemoveAll(to) // Ignore error.
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("renaming %q to %q: %v", from, to, err)
		}
	}
	return nil
}

// DownloadAll downloads files concurrently into directory and returns the
// first error.
func DownloadAll(ctx context.Context, directory string, files ...File) error {
	if directory != "" {
		if err := os.MkdirAll(directory, 0755); err != nil {
			return err
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := Download(ctx, file, directory); err != nil {
				return fmt.Errorf("error handling %s: %v", file.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func newHash(hashType string) hash.Hash {
	switch strings.ToLower(hashType) {
	case "md5":
		return md5.New()
	case "sha1":
		return sha1.New()
	}
	return sha256.New()
}

func downloadFile(ctx context.Context, file File) (err error) {
	f, err := os.Create(file.Path())
	if err != nil {
		return fmt.Errorf("error creating %q: %v", file.Path(), err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("error closing %q: %v", file.Path(), closeErr)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return err
	}
	resp, err := HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: error downloading %q: %v", file.Name, file.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: error downloading %q: %s", file.Name, file.URL, resp.Status)
	}

	var w io.Writer = f
	h := newHash(file.HashType)
	if file.Hash != "" {
		w = io.MultiWriter(f, h)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("%s: error downloading %q: %v", file.Name, file.URL, err)
	}
	if file.Hash != "" {
		if sum := hex.EncodeToString(h.Sum(nil)); sum != file.Hash {
			return fmt.Errorf("%s: got %s hash %q, want %q", file.Name, file.HashType, sum, file.Hash)
		}
	}
	return nil
}

func fileSameHash(file File) bool {
	f, err := os.Open(file.Path())
	if err != nil {
		return false
	}
	defer f.Close()

	h := newHash(file.HashType)
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if sum != file.Hash {
		glog.Warningf("File %q: got hash %q, expect hash %q", file.Name, sum, file.Hash)
		return false
	}
	return true
}

func unpack(file File) error {
	dir := "."
	if file.directory != "" {
		dir = file.directory
	}
	var err error
	switch {
	case strings.HasSuffix(file.Name, ".zip"):
		glog.Infof("Unzipping %q", file.Path())
		err = unzip(file.Path(), dir)
	case strings.HasSuffix(file.Name, ".tar.gz"), strings.HasSuffix(file.Name, ".tgz"):
		glog.Infof("Unpacking %q", file.Path())
		err = untar(file.Path(), dir)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("error unpacking %q: %v", file.Name, err)
	}
	return nil
}

// target returns where an archive entry is written, refusing entries that
// would land outside dir.
func target(dir, name string) (string, error) {
	p := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes %q", name, dir)
	}
	return p, nil
}

func writeEntry(p string, mode os.FileMode, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm()|0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func unzip(archive, dir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		p, err := target(dir, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(p, 0755); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = writeEntry(p, zf.Mode(), rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func untar(archive, dir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		p, err := target(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(p, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(p, os.FileMode(hdr.Mode), tr); err != nil {
				return err
			}
		default:
			glog.V(1).Infof("Skipping %q of type %c", hdr.Name, hdr.Typeflag)
		}
	}
}
