// Package dahua implements capability.Camera against a Dahua (and
// Dahua-OEM) DVR/NVR's CGI interface: digest-authenticated GET/HEAD
// requests against /cgi-bin/*, with recordings enumerated via the
// mediaFileFind factory object protocol and streamed back raw over
// RPC_Loadfile.
package dahua

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mblakley/soccer-cam-go/capability"
)

const dahuaTimeLayout = "2006-01-02 15:04:05"

// Camera is a capability.Camera backed by one Dahua device.
type Camera struct {
	ip       string
	username string
	password string
	client   *http.Client

	state *connectionState
}

func New(ip, username, password, stateFilePath string) *Camera {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = 30 * time.Second

	return &Camera{
		ip:       ip,
		username: username,
		password: password,
		client:   client.StandardClient(),
		state:    loadConnectionState(stateFilePath),
	}
}

func (c *Camera) url(path string) string {
	return fmt.Sprintf("http://%s%s", c.ip, path)
}

// CheckAvailability probes a cheap CGI endpoint and records the
// transition in the persisted connection-event log, the same signal
// ConnectedTimeframes later derives outage windows from.
func (c *Camera) CheckAvailability(ctx context.Context) (bool, error) {
	resp, err := c.doDigest(ctx, http.MethodGet, "/cgi-bin/recordManager.cgi?action=getCaps", nil)
	if err != nil {
		c.state.recordTransition(false, fmt.Sprintf("connection error: %v", err))
		return false, nil
	}
	defer resp.Body.Close()

	available := resp.StatusCode == http.StatusOK
	if !available {
		c.state.recordTransition(false, fmt.Sprintf("connection failed: %d", resp.StatusCode))
	} else {
		c.state.recordTransition(true, "connected")
	}
	return available, nil
}

// ListFiles enumerates dav recordings between from and to on channel 1.
func (c *Camera) ListFiles(ctx context.Context, from, to time.Time) ([]capability.CameraFile, error) {
	objectID, err := c.createFinder(ctx)
	if err != nil {
		return nil, err
	}
	defer c.releaseFinder(ctx, objectID)

	findURL := fmt.Sprintf(
		"/cgi-bin/mediaFileFind.cgi?action=findFile&object=%s&condition.Channel=1&condition.Types[0]=dav&condition.StartTime=%s&condition.EndTime=%s&condition.VideoStream=Main",
		objectID, escapeDahuaTime(from), escapeDahuaTime(to))
	resp, err := c.doDigest(ctx, http.MethodGet, findURL, nil)
	if err != nil {
		return nil, fmt.Errorf("starting media file search: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("findFile returned HTTP %d", resp.StatusCode)
	}

	nextURL := fmt.Sprintf("/cgi-bin/mediaFileFind.cgi?action=findNextFile&object=%s&count=100", objectID)
	resp, err = c.doDigest(ctx, http.MethodGet, nextURL, nil)
	if err != nil {
		return nil, fmt.Errorf("listing media files: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("findNextFile returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading findNextFile response: %w", err)
	}
	return parseFileListing(string(body))
}

type rawFileEntry struct {
	path, start, end string
}

// parseFileListing decodes the `items[N].Field=value` line format shared
// by every mediaFileFind response.
func parseFileListing(body string) ([]capability.CameraFile, error) {
	entries := map[string]*rawFileEntry{}
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "items[") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		key, value := line[:eq], line[eq+1:]

		open := strings.Index(key, "[")
		closeBr := strings.Index(key, "]")
		if open < 0 || closeBr < 0 || closeBr < open {
			continue
		}
		index := key[open+1 : closeBr]
		field := key[closeBr+1:]
		field = strings.TrimPrefix(field, ".")

		e, ok := entries[index]
		if !ok {
			e = &rawFileEntry{}
			entries[index] = e
		}
		switch field {
		case "FilePath":
			e.path = value
		case "StartTime":
			e.start = value
		case "EndTime":
			e.end = value
		}
	}

	var files []capability.CameraFile
	for _, e := range entries {
		if e.path == "" || e.start == "" || e.end == "" {
			continue
		}
		start, err := time.Parse(dahuaTimeLayout, e.start)
		if err != nil {
			continue
		}
		end, err := time.Parse(dahuaTimeLayout, e.end)
		if err != nil {
			continue
		}
		files = append(files, capability.CameraFile{Path: e.path, StartTime: start, EndTime: end})
	}
	return files, nil
}

func (c *Camera) createFinder(ctx context.Context) (string, error) {
	resp, err := c.doDigest(ctx, http.MethodGet, "/cgi-bin/mediaFileFind.cgi?action=factory.create", nil)
	if err != nil {
		return "", fmt.Errorf("creating media file finder: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("factory.create returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	parts := strings.SplitN(strings.TrimSpace(string(body)), "=", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("unexpected factory.create response: %q", body)
	}
	return strings.TrimSpace(parts[1]), nil
}

func (c *Camera) releaseFinder(ctx context.Context, objectID string) {
	resp, err := c.doDigest(ctx, http.MethodGet, fmt.Sprintf("/cgi-bin/mediaFileFind.cgi?action=close&object=%s", objectID), nil)
	if err == nil {
		resp.Body.Close()
	}
}

// GetSize returns the remote file's size via HEAD, as reported in
// Content-Length.
func (c *Camera) GetSize(ctx context.Context, remotePath string) (int64, error) {
	resp, err := c.doDigest(ctx, http.MethodHead, "/cgi-bin/RPC_Loadfile"+remotePath, nil)
	if err != nil {
		return 0, fmt.Errorf("checking remote file size: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("RPC_Loadfile HEAD returned HTTP %d", resp.StatusCode)
	}
	size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing Content-Length: %w", err)
	}
	return size, nil
}

// Download streams remotePath to localPath, calling progress roughly
// once a second with cumulative bytes written.
func (c *Camera) Download(ctx context.Context, remotePath, localPath string, progress func(bytesWritten int64)) error {
	resp, err := c.doDigest(ctx, http.MethodGet, "/cgi-bin/RPC_Loadfile"+remotePath, nil)
	if err != nil {
		return fmt.Errorf("requesting file download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned HTTP %d", resp.StatusCode)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating local file: %w", err)
	}
	defer out.Close()

	var written int64
	lastReported := time.Now()
	buf := make([]byte, 256*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("writing local file: %w", writeErr)
			}
			written += int64(n)
			if progress != nil && time.Since(lastReported) >= time.Second {
				progress(written)
				lastReported = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("reading download stream: %w", readErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if progress != nil {
		progress(written)
	}
	return nil
}

// ConnectedTimeframes derives "camera otherwise engaged" windows from the
// persisted connection-event log: each unreachable span is treated as a
// window the native mobile app or another client may have claimed the
// device's single HTTP connection slot during. A still-open unreachable
// span (no "connected" event since) reports EndOrNow as the zero value.
func (c *Camera) ConnectedTimeframes(ctx context.Context) ([]capability.ConnectedWindow, error) {
	return c.state.windows(), nil
}

func escapeDahuaTime(t time.Time) string {
	return strings.ReplaceAll(t.Format(dahuaTimeLayout), " ", "%20")
}
