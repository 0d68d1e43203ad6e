package taskmaster

import (
	"strings"
	"unicode"
)

type field int

const (
	fieldID field = iota
	fieldActive
	fieldGroup
	fieldLabel
	fieldStart
	fieldEnd
	fieldResource
	fieldTarget
	fieldSource
	fieldSearchKey
	fieldPostAction
	fieldPopup
	fieldMacro
	fieldSkipFetch
	fieldCloseAfter
	fieldWeekdays
	fieldSkipHoliday
	fieldDayOfMonth
)

// aliases lists accepted header names per field, most preferred first. The
// Japanese names are the ones produced by the task master template.
var aliases = map[field][]string{
	fieldID:          {"ID", "TaskID"},
	fieldActive:      {"Active", "Enabled", "有効"},
	fieldGroup:       {"Group", "グループ"},
	fieldLabel:       {"TaskName", "Task", "Name", "タスク名"},
	fieldStart:       {"StartTime", "Start", "開始時刻"},
	fieldEnd:         {"EndTime", "End", "終了時刻"},
	fieldResource:    {"FilePath", "File", "ファイルパス"},
	fieldTarget:      {"TargetSheet", "Sheet", "CSV転記シート", "転記シート", "シート"},
	fieldSource:      {"DownloadURL", "URL", "Source"},
	fieldSearchKey:   {"SearchKey", "検索キー"},
	fieldPostAction:  {"ActionAfter", "PostAction", "完了後動作"},
	fieldPopup:       {"PopupMessage", "Message", "ポップアップメッセージ", "メッセージ"},
	fieldMacro:       {"Macro", "MacroName", "マクロ名"},
	fieldSkipFetch:   {"SkipDownload", "SkipFetch", "DLスキップ"},
	fieldCloseAfter:  {"CloseAfter", "Close", "閉じる"},
	fieldWeekdays:    {"Weekdays", "Weekday", "曜日"},
	fieldSkipHoliday: {"SkipHoliday", "SkipOnHoliday", "祝日スキップ"},
	fieldDayOfMonth:  {"DayOfMonth", "Days", "日付条件"},
}

// headerIndex resolves header cells to fields once per file.
type headerIndex map[field]int

func newHeaderIndex(headers []string) headerIndex {
	positions := make(map[string]int, len(headers))
	for i, h := range headers {
		key := normalizeHeader(h)
		if _, dup := positions[key]; !dup && key != "" {
			positions[key] = i
		}
	}
	idx := make(headerIndex)
	for f, names := range aliases {
		for _, name := range names {
			if pos, ok := positions[normalizeHeader(name)]; ok {
				idx[f] = pos
				break
			}
		}
	}
	return idx
}

func (h headerIndex) has(f field) bool {
	_, ok := h[f]
	return ok
}

// row adapts one record to field lookups.
func (h headerIndex) row(cells []string) row {
	r := make(row, len(h))
	for f, pos := range h {
		if pos < len(cells) {
			r[f] = strings.TrimSpace(cells[pos])
		}
	}
	return r
}

type row map[field]string

func (r row) get(f field) string { return r[f] }

func normalizeHeader(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '_' || r == '-' {
			return -1
		}
		return unicode.ToLower(r)
	}, strings.TrimPrefix(s, "\ufeff"))
}
