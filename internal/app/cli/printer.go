package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/ledger"
	"keapsync/internal/domain/sync"
)

const timeLayout = "2006-01-02 15:04:05"

// Printer печатает результаты команд: таблицы в терминал, JSON в пайп или по --json
type Printer struct {
	w     io.Writer
	json  bool
	color bool
}

func NewPrinter(w io.Writer, forceJSON bool) *Printer {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{w: w, json: forceJSON || !tty, color: tty && !color.NoColor}
}

// NewTextPrinter печатает таблицы без цвета независимо от терминала
func NewTextPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) JSON() bool {
	return p.json
}

func (p *Printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) paint(c color.Attribute, s string) string {
	if !p.color {
		return s
	}
	return color.New(c).Sprint(s)
}

func (p *Printer) Summary(s *sync.RunSummary) error {
	if p.json {
		return p.encode(s)
	}

	switch {
	case s.State == sync.StateFailed:
		fmt.Fprintln(p.w, p.paint(color.FgRed, "✗ Синхронизация прервана"))
	case s.Complete() && s.Errored == 0:
		fmt.Fprintln(p.w, p.paint(color.FgGreen, "✓ Синхронизация завершена"))
	default:
		fmt.Fprintln(p.w, p.paint(color.FgYellow, "⚠ Синхронизация завершена с ошибками"))
	}

	fmt.Fprintf(p.w, "Запуск: %s (%s)\n", s.RunID, s.Mode)
	if len(s.Types) > 0 {
		fmt.Fprintf(p.w, "Типы: %s\n", joinTypes(s.Types))
	}
	if s.Since != nil {
		fmt.Fprintf(p.w, "Изменения с: %s\n", s.Since.Local().Format(timeLayout))
	}
	fmt.Fprintf(p.w, "Всего: %d | Применено: %d | Без изменений: %d | Конфликтов: %d | Разрешено: %d | Пропущено: %d | Ошибок: %d\n",
		s.Total, s.Applied, s.Unchanged, s.Conflicted, s.Resolved, s.Skipped, s.Errored)
	if s.PagesFailed > 0 {
		fmt.Fprintf(p.w, "Не загружено страниц: %d\n", s.PagesFailed)
	}
	if s.Cancelled {
		fmt.Fprintln(p.w, "Запуск отменен")
	}
	if s.Error != "" {
		fmt.Fprintf(p.w, "Ошибка: %s\n", s.Error)
	}
	fmt.Fprintf(p.w, "Длительность: %v\n", s.Duration().Round(time.Millisecond))
	return nil
}

func (p *Printer) Conflicts(list []conflict.Record, pending int) error {
	if p.json {
		return p.encode(struct {
			Conflicts []conflict.Record `json:"conflicts"`
			Pending   int               `json:"pending"`
		}{list, pending})
	}

	if len(list) == 0 {
		fmt.Fprintln(p.w, "Конфликты не найдены")
		fmt.Fprintf(p.w, "Ожидают решения: %d\n", pending)
		return nil
	}

	w := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tТип\tKeap ID\tПоля\tСтатус\tСоздан\t")
	for _, rec := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			rec.ID,
			rec.EntityType,
			rec.KeapID,
			truncate(strings.Join(rec.FieldNames(), ","), 40),
			rec.Status,
			rec.CreatedAt.Local().Format(timeLayout),
		)
	}
	w.Flush()
	fmt.Fprintf(p.w, "\nПоказано: %d | Ожидают решения: %d\n", len(list), pending)
	return nil
}

func (p *Printer) Conflict(rec *conflict.Record) error {
	if p.json {
		return p.encode(rec)
	}

	fmt.Fprintf(p.w, "Конфликт %s\n", rec.ID)
	fmt.Fprintf(p.w, "Тип: %s | Keap ID: %s | Статус: %s\n", rec.EntityType, rec.KeapID, rec.Status)
	fmt.Fprintf(p.w, "Создан: %s\n", rec.CreatedAt.Local().Format(timeLayout))
	if !rec.RemoteAt.IsZero() {
		fmt.Fprintf(p.w, "Изменен в CRM: %s\n", rec.RemoteAt.Local().Format(timeLayout))
	}
	if rec.RunID != "" {
		fmt.Fprintf(p.w, "Запуск: %s\n", rec.RunID)
	}
	if rec.ResolvedAt != nil {
		fmt.Fprintf(p.w, "Разрешен: %s (%s)\n", rec.ResolvedAt.Local().Format(timeLayout), rec.Strategy)
	}

	fmt.Fprintln(p.w, "\nПоля:")
	for _, f := range rec.Fields {
		fmt.Fprintf(p.w, "  %s\n", p.paint(color.Bold, f.Field))
		fmt.Fprintf(p.w, "    база:    %s\n", displayValue(f.Baseline))
		fmt.Fprintf(p.w, "    зеркало: %s\n", displayValue(f.Local))
		fmt.Fprintf(p.w, "    CRM:     %s\n", displayValue(f.Remote))
		fmt.Fprintf(p.w, "    разница: %s\n", FieldDiff(f.Local, f.Remote, p.color))
	}
	if rec.Resolution != nil {
		fmt.Fprintln(p.w, "\nРешение:")
		for _, k := range sortedKeys(rec.Resolution) {
			fmt.Fprintf(p.w, "  %s = %s\n", k, displayValue(rec.Resolution[k]))
		}
	}
	return nil
}

func (p *Printer) Stats(resp *ledger.StatsResponse) error {
	if p.json {
		return p.encode(resp)
	}

	st := resp.Stats
	rate := fmt.Sprintf("%.1f%%", st.SuccessRate)
	switch {
	case st.SuccessRate >= 95:
		rate = p.paint(color.FgGreen, rate)
	case st.SuccessRate >= 80:
		rate = p.paint(color.FgYellow, rate)
	default:
		rate = p.paint(color.FgRed, rate)
	}

	fmt.Fprintf(p.w, "Окно: %s .. %s\n", st.Since.Local().Format(timeLayout), st.Until.Local().Format(timeLayout))
	fmt.Fprintf(p.w, "Успешность: %s\n", rate)
	fmt.Fprintf(p.w, "Операций: %d | Успешно: %d | Ошибок: %d | Конфликтов: %d\n", st.Total, st.Success, st.Errors, st.Conflicts)
	fmt.Fprintf(p.w, "Запусков: %d | Прерванных: %d\n", st.Runs, st.FailedRuns)
	if st.LastRunAt != nil {
		fmt.Fprintf(p.w, "Последний запуск: %s\n", st.LastRunAt.Local().Format(timeLayout))
	}
	fmt.Fprintf(p.w, "Ожидают решения: %d\n", resp.PendingConflicts)

	if len(st.ByEntityType) > 0 {
		fmt.Fprintln(p.w)
		w := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Тип\tВсего\tУспешно\tОшибок\tКонфликтов\tУспешность\t")
		for _, t := range entity.Types {
			ts, ok := st.ByEntityType[t]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.1f%%\t\n", t, ts.Total, ts.Success, ts.Errors, ts.Conflicts, ts.SuccessRate)
		}
		w.Flush()
	}

	if len(st.Trend) > 0 {
		fmt.Fprintln(p.w, "\nПо дням:")
		w := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
		for _, d := range st.Trend {
			fmt.Fprintf(w, "  %s\t%d\t%d\t%d\t\n", d.Day, d.Success, d.Errors, d.Conflicts)
		}
		w.Flush()
	}
	return nil
}

func (p *Printer) Entries(entries []ledger.Entry) error {
	if p.json {
		return p.encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(p.w, "Записи журнала не найдены")
		return nil
	}

	w := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Время\tТип\tKeap ID\tОперация\tСтатус\tДетали\t")
	for _, e := range entries {
		details := strings.Join(e.Changes, ",")
		if e.Error != "" {
			details = e.Error
		}
		if e.IsBatch() {
			details = fmt.Sprintf("обработано %d", e.Processed)
			if e.Error != "" {
				details += ": " + e.Error
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			e.CreatedAt.Local().Format(timeLayout),
			orDash(string(e.EntityType)),
			orDash(e.KeapID),
			e.Operation,
			p.status(e.Status),
			truncate(details, 60),
		)
	}
	w.Flush()
	return nil
}

func (p *Printer) Pruned(n int64, retention time.Duration) error {
	if p.json {
		return p.encode(map[string]any{"deleted": n, "retention_days": int(retention.Hours() / 24)})
	}
	fmt.Fprintf(p.w, "Удалено записей журнала: %d (старше %d дн.)\n", n, int(retention.Hours()/24))
	return nil
}

func (p *Printer) Message(format string, args ...any) {
	if p.json {
		return
	}
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) status(s ledger.Status) string {
	switch s {
	case ledger.StatusSuccess:
		return p.paint(color.FgGreen, string(s))
	case ledger.StatusConflict:
		return p.paint(color.FgYellow, string(s))
	default:
		return p.paint(color.FgRed, string(s))
	}
}

func joinTypes(types []entity.Type) string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return strings.Join(out, ", ")
}

func sortedKeys(f entity.Fields) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
