package config

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/alexjbarnes/folder-mirror/internal/errors"
	"gopkg.in/yaml.v3"
)

// FolderMapping pairs a local directory with the remote target it is
// mirrored to. Both fields are non-empty; LocalPath is absolute.
type FolderMapping struct {
	LocalPath    string `yaml:"local"`
	RemoteTarget string `yaml:"remote"`
}

func (m FolderMapping) String() string {
	return m.LocalPath + "=" + m.RemoteTarget
}

// LoadMappings reads the mapping file at path. Files ending in .yaml or
// .yml hold a list of {local, remote} objects; anything else is read as
// local=remote lines. Malformed entries, entries whose local folder does
// not exist, and repeated remote targets are skipped with a warning.
// The error wraps ErrConfig when the file is unreadable or no usable
// entry remains.
func LoadMappings(path string, logger *slog.Logger) ([]FolderMapping, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("%w: reading mapping file: %v", apperrors.ErrConfig, err)
	}

	var raw []FolderMapping

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", apperrors.ErrConfig, path, err)
		}
	default:
		raw = ParseMappings(bytes.NewReader(data), logger)
	}

	mappings := filterMappings(raw, logger)
	if len(mappings) == 0 {
		return nil, fmt.Errorf("%w: no usable entries in %s", apperrors.ErrConfig, path)
	}

	return mappings, nil
}

// ParseMappings reads local=remote lines. Blank lines, # comments and
// lines missing either side are skipped. Only the first '=' separates
// the two sides, so remote targets may contain '='.
func ParseMappings(r io.Reader, logger *slog.Logger) []FolderMapping {
	var out []FolderMapping

	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		local, remote, ok := strings.Cut(line, "=")
		local = strings.TrimSpace(local)
		remote = strings.TrimSpace(remote)

		if !ok || local == "" || remote == "" {
			logger.Warn("skipping malformed mapping line", slog.Int("line", lineNo))
			continue
		}

		out = append(out, FolderMapping{LocalPath: local, RemoteTarget: remote})
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("reading mapping file stopped early", slog.String("error", err.Error()))
	}

	return out
}

func filterMappings(raw []FolderMapping, logger *slog.Logger) []FolderMapping {
	seen := make(map[string]string)

	var out []FolderMapping

	for _, m := range raw {
		m.LocalPath = strings.TrimSpace(m.LocalPath)
		m.RemoteTarget = strings.TrimSpace(m.RemoteTarget)

		if m.LocalPath == "" || m.RemoteTarget == "" {
			logger.Warn("skipping mapping with empty side", slog.String("mapping", m.String()))
			continue
		}

		abs, err := filepath.Abs(m.LocalPath)
		if err != nil {
			logger.Warn("skipping mapping with unresolvable path",
				slog.String("local", m.LocalPath),
				slog.String("error", err.Error()),
			)

			continue
		}

		m.LocalPath = abs

		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			logger.Warn("local folder does not exist, skipping", slog.String("local", abs))
			continue
		}

		if prev, dup := seen[m.RemoteTarget]; dup {
			logger.Warn("remote target already mirrored by another folder, skipping",
				slog.String("local", abs),
				slog.String("remote", m.RemoteTarget),
				slog.String("owner", prev),
			)

			continue
		}

		seen[m.RemoteTarget] = abs
		out = append(out, m)
	}

	return out
}
