package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/gwlsn/shotclock/internal/ffmpeg"
	"github.com/gwlsn/shotclock/internal/logger"
)

var (
	// ErrMissingUpload is returned when the form has no file in the "file" field.
	ErrMissingUpload = errors.New("no file uploaded")

	// ErrUploadTooLarge is returned when the body exceeds max_upload_size.
	ErrUploadTooLarge = errors.New("upload too large")
)

// uploadField is the multipart field holding the video.
const uploadField = "file"

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// secureFilename reduces a client supplied name to a safe ASCII basename.
// Accents are folded, whitespace becomes "_", path separators and anything
// else outside [A-Za-z0-9_.-] is dropped, and leading or trailing dots and
// underscores are trimmed. The result may be empty.
func secureFilename(name string) string {
	name = norm.NFKD.String(name)
	name = strings.Map(func(r rune) rune {
		if r > 127 {
			return -1
		}
		if r == '/' || r == '\\' {
			return ' '
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

// upload is a video received into a temp file under the static directory.
// It reaches Path only when commit is called, which the handler does while
// holding the pipeline slot.
type upload struct {
	Filename string // as sent by the client
	Path     string // final location, shared by uploads with the same name
	Size     int64

	tmpPath string
}

// receiveUpload reads the "file" field and spools it into dir.
func receiveUpload(w http.ResponseWriter, r *http.Request, dir string, maxSize int64) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, fmt.Errorf("%w: limit is %d bytes", ErrUploadTooLarge, tooLarge.Limit)
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			return nil, ErrMissingUpload
		default:
			return nil, fmt.Errorf("%w: %v", ErrMissingUpload, err)
		}
	}
	defer file.Close()

	if header.Filename == "" {
		return nil, ErrMissingUpload
	}

	name := secureFilename(header.Filename)
	if name == "" {
		name = "upload-" + uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
		name = secureFilename(name)
	}
	if !ffmpeg.IsVideoFile(name) {
		// ffprobe decides; the extension is only a hint
		logger.Warn("Upload has no known video extension", "filename", header.Filename, "saved_as", name)
	}

	tmpPath, size, err := spool(file, dir)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	return &upload{
		Filename: header.Filename,
		Path:     filepath.Join(dir, name),
		Size:     size,
		tmpPath:  tmpPath,
	}, nil
}

// commit moves the upload to Path, replacing any earlier upload of the
// same name.
func (u *upload) commit() error {
	if u.tmpPath == "" {
		return nil
	}
	if err := os.Rename(u.tmpPath, u.Path); err != nil {
		return fmt.Errorf("move upload into place: %w", err)
	}
	u.tmpPath = ""
	return nil
}

// discard removes the temp file of an upload that was never committed.
func (u *upload) discard() {
	if u.tmpPath != "" {
		os.Remove(u.tmpPath)
		u.tmpPath = ""
	}
}

// spool copies src to a new temp file in dir and returns its path.
func spool(src multipart.File, dir string) (string, int64, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, err
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", 0, err
	}

	n, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", 0, err
	}

	return tmp.Name(), n, nil
}
