package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/logging"
	"github.com/tupa/pkg/models"
)

// Source is a locally selected file: raw bytes plus a declared MIME type
type Source interface {
	Name() string
	// MIMEType may be empty, in which case the content is sniffed
	MIMEType() string
	Open() (io.ReadCloser, error)
}

// Result is the outcome of encoding one source
type Result struct {
	Name       string
	Attachment models.Attachment
	Err        error
}

// Pipeline turns sources into attachments
type Pipeline struct {
	maxBytes int64
	workers  int
	logger   zerolog.Logger
}

// NewPipeline creates a pipeline. maxBytes <= 0 disables the size check.
func NewPipeline(maxBytes int64, workers int, logger zerolog.Logger) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{
		maxBytes: maxBytes,
		workers:  workers,
		logger:   logging.Component(logger, "attachment"),
	}
}

// KindFor maps a MIME type to its media kind by prefix
func KindFor(mimeType string) (models.MediaKind, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return models.MediaImage, nil
	case strings.HasPrefix(mt, "video/"):
		return models.MediaVideo, nil
	case strings.HasPrefix(mt, "audio/"):
		return models.MediaAudio, nil
	}
	return "", fmt.Errorf("%w: %q", apperr.ErrUnsupportedMedia, mimeType)
}

// Encode reads src fully and builds an attachment with an inline data URI preview
func (p *Pipeline) Encode(ctx context.Context, src Source) (models.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return models.Attachment{}, err
	}

	rc, err := src.Open()
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to open %s: %w", src.Name(), err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if p.maxBytes > 0 {
		r = io.LimitReader(rc, p.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to read %s: %w", src.Name(), err)
	}
	if p.maxBytes > 0 && int64(len(data)) > p.maxBytes {
		return models.Attachment{}, apperr.Invalid("attachment",
			fmt.Sprintf("%s exceeds %s", src.Name(), humanize.Bytes(uint64(p.maxBytes))))
	}
	if err := ctx.Err(); err != nil {
		return models.Attachment{}, err
	}

	mimeType := src.MIMEType()
	if mimeType == "" {
		mimeType = sniff(data)
	}
	kind, err := KindFor(mimeType)
	if err != nil {
		return models.Attachment{}, err
	}

	payload := base64.StdEncoding.EncodeToString(data)
	p.logger.Debug().
		Str("name", src.Name()).
		Str("mime", mimeType).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Msg("Encoded attachment")

	return models.Attachment{
		MIMEType:       mimeType,
		EncodedPayload: payload,
		MediaKind:      kind,
		PreviewRef:     "data:" + mimeType + ";base64," + payload,
		SizeBytes:      int64(len(data)),
	}, nil
}

// EncodeAll encodes every source concurrently. One failure never cancels the
// others: each Result carries its own error, in input order.
func (p *Pipeline) EncodeAll(ctx context.Context, srcs []Source) []Result {
	results := make([]Result, len(srcs))
	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, src := range srcs {
		i, src := i, src
		g.Go(func() error {
			att, err := p.Encode(ctx, src)
			results[i] = Result{Name: src.Name(), Attachment: att, Err: err}
			if err != nil {
				p.logger.Warn().Err(err).Str("name", src.Name()).Msg("Attachment rejected")
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func sniff(data []byte) string {
	head := data
	if len(head) > 261 {
		head = head[:261]
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}

// LocalFile is a Source reading from disk
type LocalFile struct {
	Path string
	// MIME overrides detection when set
	MIME string
}

func (f LocalFile) Name() string { return filepath.Base(f.Path) }

// MIMEType uses the override, then content sniffing, then the file extension
func (f LocalFile) MIMEType() string {
	if f.MIME != "" {
		return f.MIME
	}
	if fh, err := os.Open(f.Path); err == nil {
		head := make([]byte, 261)
		n, _ := io.ReadFull(fh, head)
		fh.Close()
		if mt := sniff(head[:n]); mt != "" {
			return mt
		}
	}
	return mime.TypeByExtension(filepath.Ext(f.Path))
}

func (f LocalFile) Open() (io.ReadCloser, error) { return os.Open(f.Path) }

// BytesFile is an in-memory Source
type BytesFile struct {
	FileName string
	MIME     string
	Data     []byte
}

func (b BytesFile) Name() string     { return b.FileName }
func (b BytesFile) MIMEType() string { return b.MIME }
func (b BytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}
