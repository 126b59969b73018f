package jobs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertroutledge/pccf-converter/internal/converter"
	"github.com/robertroutledge/pccf-converter/internal/layout"
	"github.com/robertroutledge/pccf-converter/internal/models"
	"github.com/robertroutledge/pccf-converter/internal/parser"
	"github.com/robertroutledge/pccf-converter/internal/storage"
	"github.com/robertroutledge/pccf-converter/internal/subset"
)

func pccfFile(t *testing.T, postalCodes ...string) []byte {
	t.Helper()
	l := layout.PCCF()
	fsa, _ := l.Index("FSA")
	var buf bytes.Buffer
	for _, pc := range postalCodes {
		values := make([]string, l.Len())
		values[0] = pc
		values[fsa] = pc[:3]
		line, err := parser.EncodeRecord(l, values)
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteString("\r\n")
	}
	return buf.Bytes()
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *storage.LocalStore) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStore(filepath.Join(dir, "uploads"), filepath.Join(dir, "output"))
	require.NoError(t, err)
	if cfg.Subset.Field == "" {
		cfg.Subset = subset.DefaultOptions()
	}
	m := NewManager(store, nil, cfg)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, store
}

func upload(t *testing.T, store *storage.LocalStore, name string, content []byte) *models.FileInfo {
	t.Helper()
	info, err := store.Save(name, bytes.NewReader(content))
	require.NoError(t, err)
	return info
}

func readOutput(t *testing.T, store *storage.LocalStore, job *Job) string {
	t.Helper()
	require.NotNil(t, job.Output)
	path, err := store.GetFilePath(job.Output.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestManager_Convert(t *testing.T) {
	m, store := newTestManager(t, Config{})
	info := upload(t, store, "pccf.txt", pccfFile(t, "V6B1A1", "T2P0A1", "V8W1A1"))

	job, err := m.StartConvert(info.ID, ConvertRequest{FilterField: "FSA", FilterPrefix: "V"})
	require.NoError(t, err)
	assert.Equal(t, KindConvert, job.Kind)
	m.Wait()

	got, ok := m.GetJob(job.ID)
	require.True(t, ok)
	require.Equal(t, StatusComplete, got.Status, got.Error)
	assert.Equal(t, 100.0, got.Progress)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 3, got.Stats.Lines)
	assert.Equal(t, 2, got.Stats.Written)
	assert.Equal(t, "pccf.tsv", got.Output.Name)
	assert.Equal(t, models.FileStatusOutput, got.Output.Status)

	out := readOutput(t, store, got)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(layout.PCCF().Header(), "\t"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "V6B1A1\t"))
	assert.True(t, strings.HasPrefix(lines[2], "V8W1A1\t"))

	src, _ := store.Get(info.ID)
	assert.Equal(t, "pccf_fixed", src.Format)
}

func TestManager_ConvertThenSubset(t *testing.T) {
	m, store := newTestManager(t, Config{})
	info := upload(t, store, "pccf.txt", pccfFile(t, "V6B1A1", "T2P0A1", "V8W1A1", "H2X1Y4"))

	conv, err := m.StartConvert(info.ID, ConvertRequest{})
	require.NoError(t, err)
	m.Wait()
	conv, _ = m.GetJob(conv.ID)
	require.Equal(t, StatusComplete, conv.Status, conv.Error)

	sub, err := m.StartSubset(conv.Output.ID, SubsetRequest{})
	require.NoError(t, err)
	m.Wait()
	sub, _ = m.GetJob(sub.ID)
	require.Equal(t, StatusComplete, sub.Status, sub.Error)
	require.NotNil(t, sub.SubsetStats)
	assert.Equal(t, 4, sub.SubsetStats.Rows)
	assert.Equal(t, 2, sub.SubsetStats.Kept)
	assert.Equal(t, "pccf_V.csv", sub.Output.Name)

	out := readOutput(t, store, sub)
	assert.True(t, strings.HasPrefix(out, "PostalCode,FSA,"))
	assert.Equal(t, 3, strings.Count(out, "\n"))
}

func TestManager_RejectsWrongStage(t *testing.T) {
	m, store := newTestManager(t, Config{})
	raw := upload(t, store, "pccf.txt", pccfFile(t, "V6B1A1"))

	_, err := m.StartSubset(raw.ID, SubsetRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	var tsv bytes.Buffer
	w := converter.NewTSVWriter(&tsv, '\t')
	require.NoError(t, w.WriteRow(layout.PCCF().Header()))
	require.NoError(t, w.Flush())
	converted := upload(t, store, "pccf.tsv", tsv.Bytes())

	_, err = m.StartConvert(converted.ID, ConvertRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestManager_InvalidRequests(t *testing.T) {
	m, store := newTestManager(t, Config{})
	info := upload(t, store, "pccf.txt", pccfFile(t, "V6B1A1"))

	_, err := m.StartConvert(info.ID, ConvertRequest{FilterField: "Province", FilterPrefix: "BC"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.StartConvert(info.ID, ConvertRequest{OnError: "ignore"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.StartConvert(info.ID, ConvertRequest{ShortLines: "truncate"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.StartSubset(info.ID, SubsetRequest{Delimiter: "ab"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = m.StartConvert("missing", ConvertRequest{})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Empty(t, m.ListJobs())
}

func TestManager_FailedJob(t *testing.T) {
	m, store := newTestManager(t, Config{Convert: converter.Options{ShortLines: converter.ShortLineAbort}})
	content := append(pccfFile(t, "V6B1A1"), "V6B1A1V6B\r\n"...)
	info := upload(t, store, "pccf.txt", content)

	job, err := m.StartConvert(info.ID, ConvertRequest{})
	require.NoError(t, err)
	m.Wait()

	got, _ := m.GetJob(job.ID)
	assert.Equal(t, StatusError, got.Status)
	assert.Contains(t, got.Error, "line 2")
	assert.Nil(t, got.Output)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 1, got.Stats.Written)

	files, err := store.List(0)
	require.NoError(t, err)
	assert.Len(t, files, 1, "failed output must not be listed")
}

func TestManager_Subscribe(t *testing.T) {
	m, store := newTestManager(t, Config{})
	info := upload(t, store, "pccf.txt", pccfFile(t, "V6B1A1", "V8W1A1"))

	m.slots <- struct{}{} // hold the only slot so the job stays queued
	job, err := m.StartConvert(info.ID, ConvertRequest{})
	require.NoError(t, err)

	updates, unsubscribe, err := m.Subscribe(job.ID)
	require.NoError(t, err)
	defer unsubscribe()

	first := <-updates
	assert.Equal(t, StatusQueued, first.Status)
	<-m.slots

	var last Job
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case u, ok := <-updates:
			if !ok {
				done = true
				break
			}
			last = u
		case <-timeout:
			t.Fatal("timed out waiting for job updates")
		}
	}
	assert.Equal(t, StatusComplete, last.Status)

	_, _, err = m.Subscribe("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	// Subscribing to a finished job yields its final state and a closed channel.
	updates, _, err = m.Subscribe(job.ID)
	require.NoError(t, err)
	final, ok := <-updates
	assert.True(t, ok)
	assert.Equal(t, StatusComplete, final.Status)
	_, ok = <-updates
	assert.False(t, ok)
}

func TestManager_CancelQueued(t *testing.T) {
	m, store := newTestManager(t, Config{MaxConcurrent: 1})
	info := upload(t, store, "pccf.txt", pccfFile(t, "V6B1A1"))

	m.slots <- struct{}{}
	job, err := m.StartConvert(info.ID, ConvertRequest{})
	require.NoError(t, err)
	require.NoError(t, m.Cancel(job.ID))
	m.Wait()
	<-m.slots

	got, _ := m.GetJob(job.ID)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, m.Cancel("missing"), ErrJobNotFound)
}

func TestManager_CleanupOldJobs(t *testing.T) {
	m, store := newTestManager(t, Config{})
	info := upload(t, store, "pccf.txt", pccfFile(t, "V6B1A1"))

	job, err := m.StartConvert(info.ID, ConvertRequest{})
	require.NoError(t, err)
	m.Wait()

	assert.Equal(t, 0, m.CleanupOldJobs(time.Hour))
	assert.Equal(t, 1, m.CleanupOldJobs(-time.Minute))
	_, ok := m.GetJob(job.ID)
	assert.False(t, ok)
}

func TestManager_ListJobsNewestFirst(t *testing.T) {
	m, store := newTestManager(t, Config{})
	info := upload(t, store, "pccf.txt", pccfFile(t, "V6B1A1"))

	first, err := m.StartConvert(info.ID, ConvertRequest{OutputName: "a.tsv"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := m.StartConvert(info.ID, ConvertRequest{OutputName: "b.tsv"})
	require.NoError(t, err)
	m.Wait()

	list := m.ListJobs()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}
