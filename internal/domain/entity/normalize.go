package entity

import (
	"bytes"
	"cmp"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var numericID = regexp.MustCompile(`^[0-9]+$`)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// modifiedKeys поля Keap, в которых приходит время последнего изменения
var modifiedKeys = []string{"last_updated", "modification_time", "date_updated", "updated_at"}

// externalID принимает строку или целое число и возвращает его строковую форму
func externalID(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	s := string(raw)
	return s, numericID.MatchString(s)
}

func optionalID(raw json.RawMessage) string {
	id, _ := externalID(raw)
	return id
}

// compareIDs сравнивает идентификаторы Keap как числа, если оба числовые; числовые идут раньше прочих
func compareIDs(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return cmp.Compare(na, nb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// text обрезает пробелы и приводит строку к NFC
func text(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func joinName(first, last string) string {
	return strings.TrimSpace(text(first) + " " + text(last))
}

func fromCents(cents int64) float64 {
	return float64(cents) / 100
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// timestamp нормализует время к RFC3339 UTC; нераспознанное значение сохраняется как есть
func timestamp(s string) string {
	if t, ok := parseTime(s); ok {
		return t.Format(time.RFC3339)
	}
	return strings.TrimSpace(s)
}

// ModifiedAt извлекает время последнего изменения из сырого payload, если оно есть
func ModifiedAt(raw json.RawMessage) (time.Time, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return time.Time{}, false
	}
	for _, key := range modifiedKeys {
		v, ok := probe[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		if t, ok := parseTime(s); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// ExternalID извлекает поле id из сырого payload
func ExternalID(raw json.RawMessage) (string, bool) {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", false
	}
	return externalID(probe.ID)
}
