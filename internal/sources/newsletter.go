package sources

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/scout/internal/types"
)

// NewsletterSource reads newsletter messages from a mailbox export directory
// of RFC 5322 (.eml) files.
type NewsletterSource struct {
	dir    string
	logger *slog.Logger
}

// NewNewsletterSource creates the adapter
func NewNewsletterSource(cfg NewsletterConfig, deps Deps) *NewsletterSource {
	return &NewsletterSource{dir: cfg.Dir, logger: deps.logger()}
}

// Type returns the source type
func (s *NewsletterSource) Type() types.SourceType { return types.SourceNewsletter }

// Fetch returns the messages dated at or after since, oldest first. A message
// that cannot be parsed is skipped with a warning.
func (s *NewsletterSource) Fetch(ctx context.Context, since time.Time) ([]types.Item, error) {
	if _, err := os.Stat(s.dir); err != nil {
		return nil, fmt.Errorf("open mailbox: %w", err)
	}
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.eml"))
	if err != nil {
		return nil, fmt.Errorf("list mailbox %s: %w", s.dir, err)
	}

	var items []types.Item
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := readMessage(path)
		if err != nil {
			s.logger.Warn("skipping unreadable message", "path", path, "err", err)
			continue
		}
		if item.OccurredAt.Before(since) {
			continue
		}
		items = append(items, *item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].OccurredAt.Equal(items[j].OccurredAt) {
			return items[i].OccurredAt.Before(items[j].OccurredAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func readMessage(path string) (*types.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	date, err := msg.Header.Date()
	if err != nil {
		return nil, fmt.Errorf("message date: %w", err)
	}

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		subject = msg.Header.Get("Subject")
	}
	from, err := dec.DecodeHeader(msg.Header.Get("From"))
	if err != nil {
		from = msg.Header.Get("From")
	}

	id := strings.Trim(msg.Header.Get("Message-ID"), "<> ")
	if id == "" {
		id = filepath.Base(path)
	}

	text, err := messageText(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("message %s has no text body", id)
	}

	return &types.Item{
		ID:         id,
		SourceType: types.SourceNewsletter,
		Title:      subject,
		RawText:    text,
		Metadata:   map[string]string{"from": from, "file": filepath.Base(path)},
		OccurredAt: date.UTC(),
	}, nil
}

// messageText returns the plain-text body, preferring text/plain over
// text/html in multipart messages.
func messageText(contentType, encoding string, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		var plain, html string
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", fmt.Errorf("read multipart body: %w", err)
			}
			text, err := messageText(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				return "", err
			}
			partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			switch {
			case partType == "text/html" && html == "":
				html = text
			case plain == "" && text != "":
				plain = text
			}
		}
		if plain != "" {
			return plain, nil
		}
		return html, nil
	}

	if !strings.HasPrefix(mediaType, "text/") {
		return "", nil
	}

	data, err := io.ReadAll(decodeTransfer(encoding, body))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if mediaType == "text/html" {
		return htmlToText(string(data)), nil
	}
	return normalizeSpace(string(data)), nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	}
	return r
}
