// Package sync imports deck files from a directory or git repository into a subject.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conorfennell/hoksip/internal/domain"
	"github.com/conorfennell/hoksip/internal/gitsource"
	"github.com/conorfennell/hoksip/internal/knol"
	"github.com/conorfennell/hoksip/internal/parser"
	"github.com/conorfennell/hoksip/internal/storage"
)

// Store is the persistence the importer needs.
type Store interface {
	EnsureSource(ctx context.Context, owner, subject, path string) (storage.Source, error)
	FindCardByHash(ctx context.Context, owner, subject, hash string) (domain.Card, error)
	CreateCardFromSource(ctx context.Context, in domain.NewCard, sourceID int64, today time.Time) (domain.Card, error)
	UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error
}

// Git fetches remote sources.
type Git interface {
	Sync(ctx context.Context, repoURL, localPath string) error
}

// Report summarizes one import.
type Report struct {
	Files      int
	Parsed     int
	Added      int
	Duplicates int
	Invalid    int
	Errors     []error
}

type Importer struct {
	store    Store
	git      Git
	reposDir string
	loc      *time.Location
	now      func() time.Time
	log      *zap.Logger

	// confined importers only read local sources below localRoot.
	confined  bool
	localRoot string
}

func NewImporter(store Store, git Git, reposDir string, loc *time.Location, log *zap.Logger) *Importer {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{store: store, git: git, reposDir: reposDir, loc: loc, now: time.Now, log: log}
}

// Confined returns a copy of the importer that only reads local sources below root.
// An empty root rejects local sources altogether and leaves git URLs.
func (im *Importer) Confined(root string) *Importer {
	c := *im
	c.confined = true
	c.localRoot = root
	return &c
}

// Import reads every .txt and .md file under source and adds the pairs the subject
// does not already contain. Git URLs are cloned or pulled into the repos directory first.
func (im *Importer) Import(ctx context.Context, owner, subject, source string) (Report, error) {
	if err := domain.ValidateSubject(subject); err != nil {
		return Report{}, err
	}
	subject = strings.TrimSpace(subject)

	root := source
	if gitsource.IsRemote(source) {
		localPath, err := gitsource.LocalPath(im.reposDir, source)
		if err != nil {
			return Report{}, err
		}
		if err := im.git.Sync(ctx, source, localPath); err != nil {
			return Report{}, err
		}
		root = localPath
	} else {
		abs, err := im.resolveLocal(source)
		if err != nil {
			return Report{}, err
		}
		source, root = abs, abs
	}

	src, err := im.store.EnsureSource(ctx, owner, subject, source)
	if err != nil {
		return Report{}, err
	}

	im.log.Info("importing source", zap.Int64("source_id", src.ID), zap.String("path", source), zap.String("subject", subject))
	today := domain.DateIn(im.now(), im.loc)
	var report Report

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if im.confined && d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !isDeckFile(d.Name()) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		report.Files++
		entries, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			report.Errors = append(report.Errors, fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}
		for _, e := range entries {
			report.Parsed++
			im.importEntry(ctx, &report, src, owner, subject, path, e, today)
		}
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("error walking directory %s: %w", root, walkErr)
	}

	if err := im.store.UpdateSourceLastScanned(ctx, src.ID, im.now()); err != nil {
		im.log.Warn("failed to update last scanned for source", zap.Int64("source_id", src.ID), zap.Error(err))
	}

	im.log.Info("import complete",
		zap.String("path", source),
		zap.Int("files", report.Files),
		zap.Int("parsed", report.Parsed),
		zap.Int("added", report.Added),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("invalid", report.Invalid),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// resolveLocal returns the absolute path of a local source, checking it against the
// import root when the importer is confined.
func (im *Importer) resolveLocal(source string) (string, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", source, err)
	}
	if !im.confined {
		return abs, nil
	}
	if im.localRoot == "" {
		return "", &domain.ValidationError{Field: "source", Reason: "must be a git URL"}
	}

	root, err := filepath.Abs(im.localRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve import root %s: %w", im.localRoot, err)
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", &domain.ValidationError{Field: "source", Reason: "path does not exist"}
	}
	rel, err := filepath.Rel(root, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &domain.ValidationError{Field: "source", Reason: "must be inside the import directory"}
	}
	return real, nil
}

func (im *Importer) importEntry(ctx context.Context, report *Report, src storage.Source, owner, subject, path string, e parser.Entry, today time.Time) {
	in := domain.NewCard{Owner: owner, Subject: subject, Original: e.Original, Translation: e.Translation}.Normalize()
	if err := in.Validate(); err != nil {
		report.Invalid++
		im.log.Debug("skipping invalid entry", zap.String("file", path), zap.Int("line", e.Line), zap.Error(err))
		return
	}

	hash := knol.Hash(in.Original, in.Translation)
	_, err := im.store.FindCardByHash(ctx, owner, subject, hash)
	switch {
	case err == nil:
		report.Duplicates++
		return
	case !errors.Is(err, domain.ErrNotFound):
		report.Errors = append(report.Errors, fmt.Errorf("db check for %s:%d: %w", path, e.Line, err))
		return
	}

	if _, err := im.store.CreateCardFromSource(ctx, in, src.ID, today); err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("db insert for %s:%d: %w", path, e.Line, err))
		return
	}
	report.Added++
}

func isDeckFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return true
	}
	return false
}
