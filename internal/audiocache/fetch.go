package audiocache

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Fetcher acquires the source audio for a fingerprint and writes the
// transcoded result to dest.
type Fetcher interface {
	Fetch(ctx context.Context, fingerprint, dest string) error
}

// YTDLPFetcher shells out to yt-dlp for the source stream and pipes it into
// ffmpeg, transcoding to mp3 at the configured bitrate. The transcode writes
// to a temp file first so a failed run never leaves a partial file at dest.
type YTDLPFetcher struct {
	Bitrate string
}

func (f *YTDLPFetcher) Fetch(ctx context.Context, fingerprint, dest string) error {
	url := fmt.Sprintf("https://www.youtube.com/watch?v=%s", fingerprint)
	tmp := dest + ".part"

	download := exec.CommandContext(ctx, "yt-dlp",
		"-f", "bestaudio",
		"--no-playlist",
		"-o", "-",
		"--quiet",
		url,
	)

	transcode := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", "pipe:0",
		"-vn",
		"-map_metadata", "-1",
		"-c:a", "libmp3lame",
		"-b:a", f.Bitrate,
		"-f", "mp3",
		tmp,
	)

	pipe, err := download.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open download pipe: %w", err)
	}
	transcode.Stdin = pipe

	if err := download.Start(); err != nil {
		return fmt.Errorf("failed to start yt-dlp: %w", err)
	}
	if err := transcode.Start(); err != nil {
		download.Process.Kill()
		download.Wait()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	downloadErr := download.Wait()
	transcodeErr := transcode.Wait()

	if downloadErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("download failed: %w", downloadErr)
	}
	if transcodeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("transcode failed: %w", transcodeErr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize cache file: %w", err)
	}
	return nil
}
