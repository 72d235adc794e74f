package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/gabriel-vasile/mimetype"
)

var htmlMarkup = regexp.MustCompile(`(?i)<(html|body|p|div|br|a|table|span|strong|em|ul|ol|li)\b`)

// IsHTML reports whether a rendered body carries HTML markup.
func IsHTML(body string) bool {
	return htmlMarkup.MatchString(body)
}

// LoadAttachments reads attachment files. Relative paths are resolved
// against baseDir. A missing file is an error.
func LoadAttachments(paths []string, baseDir string) ([]Attachment, error) {
	var out []Attachment
	for _, p := range paths {
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) && baseDir != "" {
			p = filepath.Join(baseDir, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading attachment %s: %w", p, err)
		}
		out = append(out, Attachment{
			Filename:    filepath.Base(p),
			ContentType: mimetype.Detect(data).String(),
			Data:        data,
		})
	}
	return out, nil
}

// Compose renders msg as an RFC 5322 message. It returns the raw bytes
// and the generated Message-ID.
func Compose(msg Message, date time.Time) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: msg.FromName, Address: msg.FromAddress}})
	h.SetAddressList("To", []*mail.Address{{Name: msg.ToName, Address: msg.ToAddress}})
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("generating message id: %w", err)
	}
	messageID, err := h.MessageID()
	if err != nil {
		return nil, "", fmt.Errorf("reading message id: %w", err)
	}

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Set(k, msg.Headers[k])
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("creating mail writer: %w", err)
	}

	if err := writeBody(mw, msg.Body); err != nil {
		return nil, "", err
	}

	for _, a := range msg.Attachments {
		var ah mail.AttachmentHeader
		ah.Set("Content-Type", a.ContentType)
		ah.SetFilename(a.Filename)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, "", fmt.Errorf("creating attachment %s: %w", a.Filename, err)
		}
		if _, err := w.Write(a.Data); err != nil {
			return nil, "", fmt.Errorf("writing attachment %s: %w", a.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("closing attachment %s: %w", a.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing mail writer: %w", err)
	}
	return buf.Bytes(), "<" + messageID + ">", nil
}

// writeBody writes the inline part. HTML bodies get a plain-text
// alternative derived from the markup.
func writeBody(mw *mail.Writer, body string) error {
	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("creating inline part: %w", err)
	}

	text := body
	if IsHTML(body) {
		text = stripHTML(body)
	}
	if err := writeInlinePart(iw, "text/plain", text); err != nil {
		return err
	}
	if IsHTML(body) {
		if err := writeInlinePart(iw, "text/html", body); err != nil {
			return err
		}
	}
	return iw.Close()
}

func writeInlinePart(iw *mail.InlineWriter, contentType, content string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		return fmt.Errorf("writing %s part: %w", contentType, err)
	}
	return w.Close()
}
