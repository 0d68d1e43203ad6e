package taskmaster

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"coworkerbot/internal/core"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseTime(t *testing.T) {
	cases := map[string]core.TimeOfDay{
		"09:00":               core.NewTimeOfDay(9, 0),
		"9:30":                core.NewTimeOfDay(9, 30),
		"13;15":               core.NewTimeOfDay(13, 15),
		"0.375":               core.NewTimeOfDay(9, 0),
		"45292.5":             core.NewTimeOfDay(12, 0),
		"2024-01-02 07:45:00": core.NewTimeOfDay(7, 45),
		"9":                   core.NewTimeOfDay(9, 0),
		"12":                  core.NewTimeOfDay(12, 0),
		"0":                   core.NewTimeOfDay(0, 0),
		"0.5":                 core.NewTimeOfDay(12, 0),
		"0.25":                core.NewTimeOfDay(6, 0),
		"0.75":                core.NewTimeOfDay(18, 0),
		".5":                  core.NewTimeOfDay(12, 0),
		"9.30":                core.NewTimeOfDay(9, 30),
	}
	for in, want := range cases {
		got, err := parseTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"soon", "24", "45292", "45292.0", "-1"} {
		_, err := parseTime(in)
		assert.Error(t, err, in)
	}
}

func TestNormalizeWarnsOnDateSerialWithoutTime(t *testing.T) {
	rec, warnings := normalize(row{fieldStart: "45292", fieldEnd: "17"}, 2)

	assert.Equal(t, core.TimeOfDay(0), rec.Start)
	assert.Equal(t, core.NewTimeOfDay(17, 0), rec.End)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "start time")
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"TRUE", "1", "yes", "Y", "on", "○"} {
		assert.True(t, parseBool(v), v)
	}
	for _, v := range []string{"", "FALSE", "0", "no", "×"} {
		assert.False(t, parseBool(v), v)
	}
}

func TestLoadCSVJapaneseHeaders(t *testing.T) {
	content := "\ufeff有効,グループ,タスク名,開始時刻,終了時刻,ファイルパス,CSV転記シート,URL,完了後動作,DLスキップ,閉じる,曜日,祝日スキップ,日付条件\n" +
		"TRUE,朝処理,売上,08:30,,C:/work/sales.xlsx,Data!B2,https://example.com/sales.csv,Pause,FALSE,TRUE,\"1,2,3,4,5\",TRUE,L\n" +
		"FALSE,朝処理,在庫,09:00,10:00,C:/work/stock.xlsx,Data,https://example.com/stock.csv,Save,FALSE,FALSE,,,\n" +
		",,,,,,,,,,,,,\n" +
		"TRUE,夜処理,,22:00,02:00,C:/work/night.xlsx,,,,TRUE,FALSE,,,\n"
	loader := NewLoader(writeFile(t, "Task_Master.csv", content), nil)

	records, err := loader.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	tasks, err := loader.LoadActiveTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	first := tasks[0]
	assert.Equal(t, "2", first.ID)
	assert.Equal(t, "朝処理", first.Group)
	assert.Equal(t, core.NewTimeOfDay(8, 30), first.Start)
	assert.Equal(t, core.NewTimeOfDay(16, 30), first.End)
	assert.Equal(t, "Data!B2", first.TargetLocation)
	assert.Equal(t, core.PostActionPause, first.PostAction)
	assert.True(t, first.CloseAfter)
	assert.True(t, first.SkipOnHoliday)
	assert.Equal(t, "1,2,3,4,5", first.WeekdayFilter)
	assert.Equal(t, "L", first.DayOfMonthFilter)

	night := tasks[1]
	assert.Equal(t, "5", night.ID)
	assert.True(t, night.Window().CrossesMidnight())
	assert.True(t, night.SkipFetch)
	assert.Equal(t, core.PostActionSave, night.PostAction)
}

func TestLoadInvalidTimeFallsBack(t *testing.T) {
	content := "Group,StartTime,FilePath,SkipDownload\ng,later,a.xlsx,TRUE\n"
	loader := NewLoader(writeFile(t, "m.csv", content), nil)

	records, err := loader.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, core.TimeOfDay(0), records[0].Task.Start)
	assert.True(t, records[0].Task.Active, "no Active column means active")
	require.Len(t, records[0].Warnings, 1)
	assert.Contains(t, records[0].Warnings[0], "start time")
}

func TestLoadWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Task_Master.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", SheetName))
	require.NoError(t, f.SetSheetRow(SheetName, "A1", &[]any{"Active", "Group", "StartTime", "FilePath", "TargetSheet", "DownloadURL", "ActionAfter"}))
	require.NoError(t, f.SetSheetRow(SheetName, "A2", &[]any{"TRUE", "morning", "07:15", "/tmp/a.xlsx", "Raw", "https://example.com/a.csv", "none"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	tasks, err := NewLoader(path, nil).LoadActiveTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "morning", tasks[0].Group)
	assert.Equal(t, core.NewTimeOfDay(7, 15), tasks[0].Start)
	assert.Equal(t, core.PostActionNone, tasks[0].PostAction)
}

func TestLoadYAML(t *testing.T) {
	content := `tasks:
  - group: evening
    start: "18:00"
    file: /data/report.xlsx
    skip_fetch: true
    weekdays: [1, 3, 5]
  - group: evening
    active: false
    start: "19:00"
    file: /data/other.xlsx
`
	tasks, err := NewLoader(writeFile(t, "tasks.yaml", content), nil).LoadActiveTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "1,3,5", tasks[0].WeekdayFilter)
	assert.True(t, tasks[0].SkipFetch)
	assert.Equal(t, "1", tasks[0].ID)
}

func TestLoadUnsupportedFormat(t *testing.T) {
	_, err := NewLoader(writeFile(t, "tasks.txt", "x"), nil).LoadActiveTasks(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoaderCachesUntilFileChanges(t *testing.T) {
	path := writeFile(t, "m.csv", "Group,StartTime,FilePath\ng,08:00,a.xlsx\n")
	loader := NewLoader(path, nil)

	first, err := loader.LoadActiveTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, os.WriteFile(path, []byte("Group,StartTime,FilePath\ng,08:00,a.xlsx\nh,09:00,b.xlsx\n"), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	second, err := loader.LoadActiveTasks(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestValidate(t *testing.T) {
	existing := writeFile(t, "ok.xlsx", "")
	content := "Group,StartTime,FilePath,TargetSheet,DownloadURL,Weekdays,DayOfMonth,PopupMessage\n" +
		"g,08:00," + existing + ",Data,https://example.com/a.csv,,,\n" +
		"g,09:00,/missing/file.xlsx,,,Mon,32,hello\n"
	loader := NewLoader(writeFile(t, "m.csv", content), nil)

	issues, err := loader.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "3", issues[0].TaskID)
	joined := strings.Join(issues[0].Problems, "\n")
	assert.Contains(t, joined, "file not found")
	assert.Contains(t, joined, "download URL is empty")
	assert.Contains(t, joined, "target sheet is empty")
	assert.Contains(t, joined, "weekday filter ignored")
	assert.Contains(t, joined, "day-of-month filter ignored")
	assert.Contains(t, joined, "popup message")
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "m.csv", "Group,StartTime,FilePath\ng,08:00,a.xlsx\n")
	loader := NewLoader(path, nil)
	w, err := NewWatcher(loader, nil)
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond
	defer w.Close()

	var reloads atomic.Int32
	w.OnReload(func(context.Context) error {
		reloads.Add(1)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("Group,StartTime,FilePath\ng,08:00,a.xlsx\nh,09:00,b.xlsx\n"), 0o644))
	require.Eventually(t, func() bool { return reloads.Load() > 0 }, 5*time.Second, 20*time.Millisecond)

	tasks, err := loader.LoadActiveTasks(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "Task_Master.xlsx", FileName(EnvProduction))
	assert.Equal(t, "Task_Master_test.xlsx", FileName(EnvTest))
}
