package settings

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/models"
)

// chromiumSnapshotBase serves per-platform Chromium snapshot archives
const chromiumSnapshotBase = "https://storage.googleapis.com/chromium-browser-snapshots"

// chromiumSnapshotRevision is the pinned snapshot used for provisioning
const chromiumSnapshotRevision = "1300313"

// EnsureBrowser makes sure a usable browser binary exists and returns its
// path. A configured chrome_path that resolves wins; otherwise a pinned
// Chromium snapshot is downloaded under <storage_path>/chrome once and
// reused on later calls.
func (s *Service) EnsureBrowser(ctx context.Context) (string, error) {
	settings, err := s.Current(ctx)
	if err != nil {
		return "", err
	}

	if settings.ChromePath != "" {
		if _, err := os.Stat(settings.ChromePath); err == nil {
			return settings.ChromePath, nil
		}
		s.logger.Warn().
			Str("chrome_path", settings.ChromePath).
			Msg("Configured browser path does not resolve, provisioning snapshot")
	}

	chromeDir := filepath.Join(settings.StoragePath, "chrome")
	binary := filepath.Join(chromeDir, snapshotBinaryRelPath())

	if _, err := os.Stat(binary); err == nil {
		return s.recordBrowserPath(ctx, settings, binary)
	}

	platform, archive, ok := snapshotTarget()
	if !ok {
		return "", fmt.Errorf("no browser snapshot available for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	url := fmt.Sprintf("%s/%s/%s/%s", chromiumSnapshotBase, platform, chromiumSnapshotRevision, archive)
	archivePath := filepath.Join(chromeDir, archive)

	s.logger.Info().Str("url", url).Msg("Downloading browser snapshot")
	if err := downloadFile(ctx, url, archivePath); err != nil {
		return "", fmt.Errorf("failed to download browser snapshot: %w", err)
	}
	defer os.Remove(archivePath)

	if err := extractZip(archivePath, chromeDir); err != nil {
		return "", fmt.Errorf("failed to extract browser snapshot: %w", err)
	}

	if _, err := os.Stat(binary); err != nil {
		return "", fmt.Errorf("browser snapshot did not contain expected binary %s", binary)
	}
	if err := os.Chmod(binary, 0755); err != nil {
		return "", err
	}
	clearQuarantine(chromeDir)

	s.logger.Info().Str("path", binary).Msg("Browser snapshot provisioned")
	return s.recordBrowserPath(ctx, settings, binary)
}

// recordBrowserPath persists the resolved binary path back into settings
func (s *Service) recordBrowserPath(ctx context.Context, settings *models.Settings, binary string) (string, error) {
	if settings.ChromePath == binary {
		return binary, nil
	}
	settings.ChromePath = binary
	if err := s.Update(ctx, settings); err != nil {
		return "", err
	}
	return binary, nil
}

// snapshotTarget maps the host platform to a snapshot directory and archive
func snapshotTarget() (platform, archive string, ok bool) {
	switch runtime.GOOS {
	case "linux":
		return "Linux_x64", "chrome-linux.zip", true
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "Mac_Arm", "chrome-mac.zip", true
		}
		return "Mac", "chrome-mac.zip", true
	case "windows":
		return "Win_x64", "chrome-win.zip", true
	}
	return "", "", false
}

// snapshotBinaryRelPath is where the browser binary lands inside chromeDir
func snapshotBinaryRelPath() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join("chrome-mac", "Chromium.app", "Contents", "MacOS", "Chromium")
	case "windows":
		return filepath.Join("chrome-win", "chrome.exe")
	default:
		return filepath.Join("chrome-linux", "chrome")
	}
}

// downloadFile fetches a URL to a local path via a temp file, so partial
// downloads never masquerade as complete archives.
func downloadFile(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("snapshot server returned %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dest)
}

// extractZip unpacks an archive, refusing entries that escape the target dir
func extractZip(archivePath, dest string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, file := range reader.File {
		target := filepath.Join(dest, file.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes target directory", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, file.Mode()); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		src, err := file.Open()
		if err != nil {
			return err
		}
		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// clearQuarantine drops the macOS quarantine attribute so the extracted
// browser launches without a Gatekeeper prompt. No-op elsewhere.
func clearQuarantine(dir string) {
	if runtime.GOOS != "darwin" {
		return
	}
	exec.Command("xattr", "-dr", "com.apple.quarantine", dir).Run()
}
