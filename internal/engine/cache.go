package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/cutline/internal/models"
)

// CheckCache reports whether the extracted audio and separated stems of a previous run can be reused.
//
// Audio is valid when it is non-empty and not older than the source video. Separation is only
// considered when audio is valid, and requires both stems to be non-empty and not older than the audio.
func (e *ProcessEngine) CheckCache(ctx context.Context, projectID, videoPath, modelID string) (models.CacheStatus, error) {
	var status models.CacheStatus
	if err := ctx.Err(); err != nil {
		return status, err
	}

	logger := e.logger.With("project", projectID, "stage", "cache")

	audioPath := e.cfg.AudioPath(projectID)
	audio, err := os.Stat(audioPath)
	switch {
	case err != nil:
		logger.Debug("audio cache miss: not found", "path", audioPath)
		return status, nil
	case audio.Size() == 0:
		logger.Debug("audio cache miss: empty file", "path", audioPath)
		return status, nil
	}

	video, err := os.Stat(videoPath)
	if err != nil {
		logger.Debug("audio cache miss: source video unavailable", "path", videoPath)
		return status, nil
	}
	if audio.ModTime().Before(video.ModTime()) {
		logger.Debug("audio cache miss: source video is newer")
		return status, nil
	}

	status.AudioValid = true
	status.AudioPath = audioPath

	dir := e.cfg.SeparatedDir(projectID)
	if _, err := os.Stat(dir); err != nil {
		return status, nil
	}

	model, _ := LookupModel(modelID)
	format := e.cfg.Separation.OutputFormat
	if format == "" {
		format = "wav"
	}
	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))

	found, ok := findStems(dir, stem, model, format)
	if !ok {
		logger.Debug("separation cache miss: stems not found", "dir", dir)
		return status, nil
	}

	for _, p := range []string{found.instrumental, found.vocals} {
		info, err := os.Stat(p)
		if err != nil || info.ModTime().Before(audio.ModTime()) {
			logger.Debug("separation cache miss: stem older than audio", "path", p)
			return status, nil
		}
	}

	status.SeparationValid = true
	status.VocalsPath = found.vocals
	status.AccompanimentPath = found.instrumental
	logger.Debug("cache hit", "audio", status.AudioValid, "separation", status.SeparationValid)
	return status, nil
}
