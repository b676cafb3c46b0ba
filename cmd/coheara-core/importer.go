package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ktiyab/coheara/internal/extraction"
	"github.com/ktiyab/coheara/internal/pipeline"
	"github.com/ktiyab/coheara/internal/store"
	"github.com/ktiyab/coheara/internal/types"
)

// localImporter stages a source file into the profile's staging directory
// and creates its Document row. It only recognizes the plaintext formats
// this build's extraction.Stage actually handles (see main.go: no PDF
// rasterizer or digital-PDF reader is wired in); anything else reports
// ImportUnsupported and the command layer's PDF-capable build is expected
// to supply a richer Importer. The encrypted SQL store and its own
// staging/dedup bookkeeping are the external collaborator per spec §1;
// this is a minimal in-repo stand-in so the pipeline has something to
// drive end to end.
type localImporter struct {
	repo    *store.Repository
	stageDir string
}

func newLocalImporter(repo *store.Repository, stageDir string) *localImporter {
	return &localImporter{repo: repo, stageDir: stageDir}
}

func detectFormat(sourcePath string) extraction.Format {
	switch strings.ToLower(filepath.Ext(sourcePath)) {
	case ".txt", ".md":
		return extraction.FormatPlaintext
	default:
		return extraction.FormatUnsupported
	}
}

func (imp *localImporter) Import(ctx context.Context, sourcePath string) (pipeline.ImportResult, error) {
	format := detectFormat(sourcePath)
	if format == extraction.FormatUnsupported {
		return pipeline.ImportResult{Status: pipeline.ImportUnsupported}, nil
	}

	hash, err := hashFile(sourcePath)
	if err != nil {
		return pipeline.ImportResult{}, err
	}
	if existing, err := imp.repo.DocumentByHash(ctx, hash); err != nil {
		return pipeline.ImportResult{}, err
	} else if existing != nil {
		return pipeline.ImportResult{DocumentID: existing.ID, Status: pipeline.ImportDuplicate}, nil
	}

	documentID := types.NewID()
	stagedPath := filepath.Join(imp.stageDir, documentID.String()+filepath.Ext(sourcePath))
	if err := copyFile(sourcePath, stagedPath); err != nil {
		return pipeline.ImportResult{}, err
	}

	doc := types.Document{
		ID:             documentID,
		Type:            types.DocOther,
		Title:           filepath.Base(sourcePath),
		IngestionTimestamp:    time.Now().UTC(),
		EncryptedSourcePath:   stagedPath,
		PerceptualHash:      &hash,
		PipelineStatus:      types.StatusImported,
	}
	if err := imp.repo.CreateDocument(ctx, doc); err != nil {
		return pipeline.ImportResult{}, err
	}

	return pipeline.ImportResult{
		DocumentID:    documentID,
		OriginalFilename: filepath.Base(sourcePath),
		Status:      pipeline.ImportStaged,
		StagedPath:    stagedPath,
		Format:      format,
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
