// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pkgvalidator extracts and validates a miner-submitted agent
// package (spec §4.4): zip or tar.gz archives are size- and
// path-traversal-checked before extraction, then every source file is
// routed through the whitelist static check.
package pkgvalidator

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/luxfi/platform-validator/utils/constants"
	"github.com/luxfi/platform-validator/whitelist"
)

var forbiddenExtensions = map[string]bool{
	".so": true, ".dll": true, ".exe": true, ".sh": true, ".pyc": true,
}

// Limits bounds archive extraction. Zero fields fall back to the
// package defaults from utils/constants.
type Limits struct {
	MaxCompressedBytes int64
	MaxFileCount       int
	MaxFileBytes       int64
	MaxExpansionRatio  int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxCompressedBytes == 0 {
		l.MaxCompressedBytes = constants.MaxArchiveCompressedBytes
	}
	if l.MaxFileCount == 0 {
		l.MaxFileCount = constants.MaxArchiveFileCount
	}
	if l.MaxFileBytes == 0 {
		l.MaxFileBytes = constants.MaxArchiveFileBytes
	}
	if l.MaxExpansionRatio == 0 {
		l.MaxExpansionRatio = constants.MaxArchiveExpansionRatio
	}
	return l
}

// ExtractedFile is one file pulled from a validated archive.
type ExtractedFile struct {
	Name string
	Data []byte
}

// Result is the outcome of validating and extracting an archive.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Files    []ExtractedFile
}

// sourceExtension identifies files routed through the whitelist.
const sourceExtension = ".py"

// Validate extracts archive (format inferred from the kind argument,
// "zip" or "tar.gz") applying the size, count, and path-traversal
// checks from spec §4.4, then whitelist-checks every source file.
// entryPoint is the declared entry point, checked for presence after
// "./"-normalization.
func Validate(kind string, archive []byte, entryPoint string, limits Limits, policy whitelist.Policy) Result {
	limits = limits.withDefaults()

	var res Result
	res.Valid = true

	if int64(len(archive)) > limits.MaxCompressedBytes {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("compressed size %d exceeds limit %d", len(archive), limits.MaxCompressedBytes))
		return res
	}

	var entries []ExtractedFile
	var err error
	switch kind {
	case "zip":
		entries, err = extractZip(archive, limits)
	case "tar.gz":
		entries, err = extractTarGz(archive, limits)
	default:
		res.Valid = false
		res.Errors = append(res.Errors, "unsupported archive kind: "+kind)
		return res
	}
	if err != nil {
		res.Valid = false
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	if len(entries) > limits.MaxFileCount {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("file count %d exceeds limit %d", len(entries), limits.MaxFileCount))
	}

	var totalBytes int64
	sawEntryPoint := false
	normalizedEntryPoint := strings.TrimPrefix(entryPoint, "./")

	for _, f := range entries {
		if int64(len(f.Data)) > limits.MaxFileBytes {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("file %q exceeds per-file size limit", f.Name))
			continue
		}
		totalBytes += int64(len(f.Data))

		ext := path.Ext(f.Name)
		if forbiddenExtensions[ext] {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("forbidden file extension: %s", f.Name))
			continue
		}

		if strings.TrimPrefix(f.Name, "./") == normalizedEntryPoint {
			sawEntryPoint = true
		}

		if ext == sourceExtension {
			check := whitelist.Check(policy, string(f.Data))
			for _, e := range check.Errors {
				res.Valid = false
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", f.Name, e))
			}
			res.Warnings = append(res.Warnings, check.Warnings...)
		}

		res.Files = append(res.Files, f)
	}

	if totalBytes > limits.MaxExpansionRatio*limits.MaxCompressedBytes {
		res.Valid = false
		res.Errors = append(res.Errors, "uncompressed size exceeds expansion ratio limit")
	}

	if !sawEntryPoint {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("declared entry point %q not found in archive", entryPoint))
	}

	return res
}

// isTraversal rejects any entry name containing ".." or starting with
// "/", checked against the raw, pre-sanitised name so a crafted
// archive cannot escape detection by normalizing first.
func isTraversal(name string) bool {
	if strings.HasPrefix(name, "/") {
		return true
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func extractZip(archive []byte, limits Limits) ([]ExtractedFile, error) {
	r, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("invalid zip archive: %w", err)
	}

	var files []ExtractedFile
	for _, zf := range r.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		if isTraversal(zf.Name) {
			return nil, fmt.Errorf("archive entry %q attempts path traversal", zf.Name)
		}
		data, err := readZipFileLimited(zf, limits.MaxFileBytes)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", zf.Name, err)
		}
		files = append(files, ExtractedFile{Name: zf.Name, Data: data})
	}
	return files, nil
}

func readZipFileLimited(zf *zip.File, maxBytes int64) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	// Read one byte beyond the limit so oversized files are still
	// caught by the per-file check rather than silently truncated.
	return io.ReadAll(io.LimitReader(rc, maxBytes+1))
}

func extractTarGz(archive []byte, limits Limits) ([]ExtractedFile, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, fmt.Errorf("invalid gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var files []ExtractedFile
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid tar stream: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if isTraversal(hdr.Name) {
			return nil, fmt.Errorf("archive entry %q attempts path traversal", hdr.Name)
		}
		data, err := io.ReadAll(io.LimitReader(tr, limits.MaxFileBytes+1))
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", hdr.Name, err)
		}
		files = append(files, ExtractedFile{Name: hdr.Name, Data: data})
	}
	return files, nil
}
