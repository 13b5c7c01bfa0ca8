package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

type SyncOptions struct {
	AccountID string `json:"account_id,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

// SyncService imports the tabular content and affiliate files into the
// content repository.
type SyncService interface {
	Sync(ctx context.Context, opts SyncOptions) (repository.RefreshReport, error)
}

type SyncSources struct {
	ContentsPath   string
	AffiliatesPath string
	Encodings      []string
}

type syncService struct {
	contents repository.ContentRepository
	src      SyncSources
	log      *logrus.Entry
}

func NewSyncService(contents repository.ContentRepository, src SyncSources, log *logrus.Entry) SyncService {
	if len(src.Encodings) == 0 {
		src.Encodings = []string{"utf-8", "shift_jis", "euc-jp"}
	}
	return &syncService{contents: contents, src: src, log: log}
}

func (s *syncService) Sync(ctx context.Context, opts SyncOptions) (repository.RefreshReport, error) {
	raw, err := os.ReadFile(s.src.ContentsPath)
	if err != nil {
		return repository.RefreshReport{}, fmt.Errorf("read contents source: %w", err)
	}
	contents, enc, err := s.decodeTable("contents", raw)
	if err != nil {
		return repository.RefreshReport{}, err
	}

	h := sha256.New()
	h.Write(raw)

	src := repository.ContentSource{Contents: contents}
	if s.src.AffiliatesPath != "" {
		affRaw, err := os.ReadFile(s.src.AffiliatesPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			s.log.WithField("path", s.src.AffiliatesPath).Warn("affiliates source missing, keeping stored affiliates")
		case err != nil:
			return repository.RefreshReport{}, fmt.Errorf("read affiliates source: %w", err)
		default:
			affiliates, _, err := s.decodeTable("affiliates", affRaw)
			if err != nil {
				return repository.RefreshReport{}, err
			}
			src.Affiliates = &affiliates
			h.Write([]byte{0})
			h.Write(affRaw)
		}
	}
	src.Fingerprint = hex.EncodeToString(h.Sum(nil))

	if err := ctx.Err(); err != nil {
		return repository.RefreshReport{}, err
	}

	var report repository.RefreshReport
	if opts.AccountID != "" {
		report, err = s.contents.RefreshAccount(opts.AccountID, src)
	} else {
		report, err = s.contents.Refresh(src, opts.Force)
	}
	if err != nil {
		return report, err
	}

	s.log.WithFields(logrus.Fields{
		"account_id":   opts.AccountID,
		"encoding":     enc,
		"contents":     report.Contents,
		"affiliates":   report.Affiliates,
		"deactivated":  report.Deactivated,
		"skipped_rows": report.SkippedRows,
		"unchanged":    report.Unchanged,
	}).Info("content sync finished")
	return report, nil
}

func (s *syncService) decodeTable(name string, raw []byte) (repository.Table, string, error) {
	text, enc, err := DecodeText(raw, s.src.Encodings)
	if err != nil {
		return repository.Table{}, "", apperr.New(apperr.KindDataFormat, "sync."+name, err)
	}
	table, err := ParseTable(name, text)
	if err != nil {
		return repository.Table{}, "", apperr.New(apperr.KindDataFormat, "sync."+name, err)
	}
	return table, enc, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText returns raw as UTF-8 using the first candidate encoding that
// decodes it cleanly.
func DecodeText(raw []byte, candidates []string) (string, string, error) {
	if bytes.HasPrefix(raw, utf8BOM) {
		return string(raw[len(utf8BOM):]), "utf-8", nil
	}

	for _, name := range candidates {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "utf-8" || name == "utf8" {
			if utf8.Valid(raw) {
				return string(raw), "utf-8", nil
			}
			continue
		}
		enc := encodingByName(name)
		if enc == nil {
			continue
		}
		out, _, err := transform.Bytes(enc.NewDecoder(), raw)
		if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return string(out), name, nil
	}
	return "", "", fmt.Errorf("could not decode with any of %s", strings.Join(candidates, ", "))
}

func encodingByName(name string) encoding.Encoding {
	switch name {
	case "shift_jis", "shift-jis", "sjis", "cp932", "windows-31j":
		return japanese.ShiftJIS
	case "euc-jp", "eucjp":
		return japanese.EUCJP
	default:
		return nil
	}
}

// DetectDelimiter picks the most frequent of ',', '\t' and ';' in the
// header line, defaulting to ','.
func DetectDelimiter(header string) rune {
	best, bestCount := ',', 0
	for _, d := range []rune{',', '\t', ';'} {
		if n := strings.Count(header, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func ParseTable(name, text string) (repository.Table, error) {
	header := text
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		header = text[:i]
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = DetectDelimiter(header)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	table := repository.Table{Name: name}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return repository.Table{}, err
		}
		if table.Header == nil {
			table.Header = row
			continue
		}
		if isBlankRow(row) {
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	if table.Header == nil {
		return repository.Table{}, errors.New("empty file")
	}
	return table, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
