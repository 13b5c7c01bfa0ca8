package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
)

func encodeSJIS(t *testing.T, s string) []byte {
	t.Helper()
	out, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return out
}

func TestDecodeText(t *testing.T) {
	candidates := []string{"utf-8", "shift_jis", "euc-jp"}

	text, enc, err := DecodeText([]byte("\xEF\xBB\xBFa,b"), candidates)
	require.NoError(t, err)
	assert.Equal(t, "a,b", text)
	assert.Equal(t, "utf-8", enc)

	text, enc, err = DecodeText(encodeSJIS(t, "本文,こんにちは"), candidates)
	require.NoError(t, err)
	assert.Equal(t, "本文,こんにちは", text)
	assert.Equal(t, "shift_jis", enc)

	eucjp, err := japanese.EUCJP.NewEncoder().Bytes([]byte("日本語"))
	require.NoError(t, err)
	text, enc, err = DecodeText(eucjp, []string{"utf-8", "euc-jp"})
	require.NoError(t, err)
	assert.Equal(t, "日本語", text)
	assert.Equal(t, "euc-jp", enc)

	_, _, err = DecodeText([]byte{0xff, 0xfe, 0xfd}, []string{"utf-8"})
	assert.Error(t, err)
}

func TestDetectDelimiter(t *testing.T) {
	assert.Equal(t, ',', DetectDelimiter("a,b,c"))
	assert.Equal(t, '\t', DetectDelimiter("a\tb\tc"))
	assert.Equal(t, ';', DetectDelimiter("a;b;c"))
	assert.Equal(t, ',', DetectDelimiter("single"))
}

func TestParseTable(t *testing.T) {
	table, err := ParseTable("contents", "account_id\tcontent_id\tbody_text\r\nA1\tC1\t\"multi\nline\"\r\n\t\t\r\nA1\tC2\tshort\r\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"account_id", "content_id", "body_text"}, table.Header)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "multi\nline", table.Rows[0][2])

	_, err = ParseTable("contents", "")
	assert.Error(t, err)
}

func TestSyncFromFiles(t *testing.T) {
	dir := t.TempDir()
	contentsPath := filepath.Join(dir, "contents.csv")
	affiliatesPath := filepath.Join(dir, "affiliates.csv")
	require.NoError(t, os.WriteFile(contentsPath,
		encodeSJIS(t, "account_id,content_id,body_text,image_usage\nA1,C1,こんにちは,なし\nA1,,欠落,\n"), 0o600))
	require.NoError(t, os.WriteFile(affiliatesPath,
		[]byte("content_id;reply_text;promo_url\nC1;詳しくはこちら;https://promo.test\n"), 0o600))

	log, _ := testLogger()
	repo := repository.NewContentRepository(filepath.Join(dir, "state"), 3)
	svc := NewSyncService(repo, SyncSources{ContentsPath: contentsPath, AffiliatesPath: affiliatesPath}, log)

	report, err := svc.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Contents)
	assert.Equal(t, 1, report.Affiliates)
	assert.Equal(t, 1, report.SkippedRows)

	c1, err := repo.Get("C1")
	require.NoError(t, err)
	assert.Equal(t, "こんにちは", c1.BodyText)
	assert.False(t, c1.UseMedia)
	require.Len(t, repo.AffiliatesFor("C1"), 1)

	report, err = svc.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.True(t, report.Unchanged)

	report, err = svc.Sync(context.Background(), SyncOptions{Force: true})
	require.NoError(t, err)
	assert.False(t, report.Unchanged)
}

func TestSyncMissingAffiliatesKeepsStored(t *testing.T) {
	dir := t.TempDir()
	contentsPath := filepath.Join(dir, "contents.csv")
	require.NoError(t, os.WriteFile(contentsPath, []byte("account_id,content_id,body_text\nA1,C1,hi\n"), 0o600))

	log, _ := testLogger()
	repo := repository.NewContentRepository(dir, 3)
	report, err := NewSyncService(repo, SyncSources{
		ContentsPath:   contentsPath,
		AffiliatesPath: filepath.Join(dir, "missing.csv"),
	}, log).Sync(context.Background(), SyncOptions{AccountID: "A1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Contents)
}

func TestSyncBadSource(t *testing.T) {
	dir := t.TempDir()
	contentsPath := filepath.Join(dir, "contents.csv")
	require.NoError(t, os.WriteFile(contentsPath, []byte("id,text\n1,x\n"), 0o600))

	log, _ := testLogger()
	_, err := NewSyncService(repository.NewContentRepository(dir, 3), SyncSources{ContentsPath: contentsPath}, log).
		Sync(context.Background(), SyncOptions{})
	assert.True(t, apperr.Is(err, apperr.KindDataFormat))

	_, err = NewSyncService(repository.NewContentRepository(dir, 3), SyncSources{ContentsPath: filepath.Join(dir, "none.csv")}, log).
		Sync(context.Background(), SyncOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
