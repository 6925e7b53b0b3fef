package mirror

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/folder-mirror/internal/errors"
	"github.com/tidwall/gjson"
)

// rcloneStatsInterval is how often rclone prints a one-line progress
// summary during a real sync.
const rcloneStatsInterval = "5s"

// maxRcloneLine bounds a single rclone log line. Longer lines fail a
// dry-run instead of silently dropping the notices after them.
const maxRcloneLine = 16 << 20

// RcloneTarget delegates to the rclone CLI for remotes configured in
// rclone (dropbox:, drive:, sftp:, ...). rclone owns transfer retries
// and timeouts; this type only builds the command lines and reads the
// JSON log.
type RcloneTarget struct {
	target  string
	bin     string
	retries int
	timeout time.Duration
	maxLine int
	logger  *slog.Logger

	command func(ctx context.Context, name string, args ...string) *exec.Cmd
	now     func() time.Time
}

func NewRcloneTarget(target string, opts Options) *RcloneTarget {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	bin := opts.RclonePath
	if bin == "" {
		bin = "rclone"
	}

	return &RcloneTarget{
		target:  target,
		bin:     bin,
		retries: opts.Retries,
		timeout: opts.Timeout,
		maxLine: maxRcloneLine,
		logger:  logger,
		command: exec.CommandContext,
		now:     time.Now,
	}
}

func (t *RcloneTarget) String() string {
	return t.target
}

// Plan runs `rclone sync --dry-run` and collects the per-object notices.
func (t *RcloneTarget) Plan(ctx context.Context, dir string) (*Plan, error) {
	localCount, err := CountFiles(ctx, dir)
	if err != nil {
		return nil, err
	}

	args := append([]string{"sync", dir, t.target, "--dry-run"}, t.commonFlags()...)

	var stderr bytes.Buffer

	cmd := t.command(ctx, t.bin, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("rclone dry-run: %w%s", err, lastErrorLine(stderr.Bytes()))
	}

	plan := &Plan{LocalCount: localCount}

	scanner := t.scanner(&stderr)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !gjson.ValidBytes(line) {
			continue
		}

		msg := gjson.GetBytes(line, "msg").String()
		object := gjson.GetBytes(line, "object").String()

		if object == "" {
			continue
		}

		switch {
		case strings.HasPrefix(msg, "Skipped delete"):
			plan.Deletes = append(plan.Deletes, object)
		case strings.HasPrefix(msg, "Skipped copy"):
			plan.Creates = append(plan.Creates, object)
		case strings.HasPrefix(msg, "Skipped update"):
			plan.Updates = append(plan.Updates, object)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading rclone dry-run log: %w", err)
	}

	return plan, nil
}

// Mirror runs `rclone sync`, forwarding each log line to the logger as it
// arrives.
func (t *RcloneTarget) Mirror(ctx context.Context, dir string) Outcome {
	out := Outcome{Time: t.now(), RemoteCount: -1}

	args := append([]string{
		"sync", dir, t.target,
		"--stats=" + rcloneStatsInterval,
		"--stats-one-line",
	}, t.commonFlags()...)

	cmd := t.command(ctx, t.bin, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		out.Err = fmt.Errorf("%w: %w", apperrors.ErrSyncFailure, err)
		return out
	}

	if err := cmd.Start(); err != nil {
		out.Err = fmt.Errorf("%w: starting rclone: %w", apperrors.ErrSyncFailure, err)
		return out
	}

	last := t.forward(stderr, &out.Stats)

	if err := cmd.Wait(); err != nil {
		out.Err = fmt.Errorf("%w: rclone: %w%s", apperrors.ErrSyncFailure, err, last)
		return out
	}

	out.Success = true

	return out
}

// forward logs rclone's JSON log lines and tallies completed operations.
// It returns the last error message seen, formatted for appending to an
// error.
func (t *RcloneTarget) forward(r io.Reader, stats *Stats) string {
	var lastErr string

	scanner := t.scanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		if !gjson.ValidBytes(line) {
			t.logger.Info("rclone", slog.String("line", string(line)))
			continue
		}

		level := gjson.GetBytes(line, "level").String()
		msg := gjson.GetBytes(line, "msg").String()
		object := gjson.GetBytes(line, "object").String()

		switch {
		case strings.HasPrefix(msg, "Copied (new)"):
			stats.Created++
		case strings.HasPrefix(msg, "Copied (replaced"), strings.HasPrefix(msg, "Updated modification time"):
			stats.Updated++
		case strings.HasPrefix(msg, "Deleted"):
			stats.Deleted++
		}

		attrs := []any{slog.String("msg", msg)}
		if object != "" {
			attrs = append(attrs, slog.String("object", object))
		}

		switch level {
		case "error", "critical":
			lastErr = msg
			t.logger.Warn("rclone", attrs...)
		case "debug":
			t.logger.Debug("rclone", attrs...)
		default:
			t.logger.Info("rclone", attrs...)
		}
	}

	if err := scanner.Err(); err != nil {
		// rclone blocks on a full pipe, so keep reading until it exits.
		t.logger.Warn("rclone log unreadable, discarding the rest", slog.String("error", err.Error()))
		_, _ = io.Copy(io.Discard, r)
	}

	if lastErr == "" {
		return ""
	}

	return ": " + lastErr
}

func (t *RcloneTarget) scanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(4096, t.maxLine)), t.maxLine)

	return scanner
}

// Count runs `rclone size --json` and reads the object count.
func (t *RcloneTarget) Count(ctx context.Context) (int64, error) {
	args := append([]string{"size", t.target, "--json"}, t.commonFlags()...)

	var stderr bytes.Buffer

	cmd := t.command(ctx, t.bin, args...)
	cmd.Stderr = &stderr

	data, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("rclone size: %w%s", err, lastErrorLine(stderr.Bytes()))
	}

	return parseCount(data)
}

func (t *RcloneTarget) commonFlags() []string {
	flags := []string{"-v", "--use-json-log", "--retries", strconv.Itoa(max(t.retries, 1))}
	if t.timeout > 0 {
		flags = append(flags, "--timeout", t.timeout.String())
	}

	return flags
}

// parseCount extracts the integer "count" field from an rclone size
// response. A missing, non-numeric, fractional or negative count is an
// error, never zero.
func parseCount(data []byte) (int64, error) {
	data = bytes.TrimSpace(data)
	if !gjson.ValidBytes(data) {
		return 0, fmt.Errorf("%w: not JSON", apperrors.ErrMalformedCount)
	}

	res := gjson.GetBytes(data, "count")
	if !res.Exists() {
		return 0, fmt.Errorf("%w: no count field", apperrors.ErrMalformedCount)
	}

	if res.Type != gjson.Number {
		return 0, fmt.Errorf("%w: count is %s", apperrors.ErrMalformedCount, res.Type)
	}

	if res.Num < 0 || res.Num != math.Trunc(res.Num) || res.Num > math.MaxInt64 {
		return 0, fmt.Errorf("%w: count %s is not a non-negative integer", apperrors.ErrMalformedCount, res.Raw)
	}

	return res.Int(), nil
}

// lastErrorLine returns the final error message in an rclone JSON log,
// formatted for appending to an error, or "".
func lastErrorLine(log []byte) string {
	var last string

	for _, line := range bytes.Split(log, []byte("\n")) {
		if !gjson.ValidBytes(line) {
			continue
		}

		if lvl := gjson.GetBytes(line, "level").String(); lvl == "error" || lvl == "critical" {
			last = gjson.GetBytes(line, "msg").String()
		}
	}

	if last == "" {
		return ""
	}

	return ": " + last
}
