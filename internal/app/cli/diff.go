package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

var (
	deleted  = color.New(color.FgRed, color.CrossedOut)
	inserted = color.New(color.FgGreen)
)

// FieldDiff показывает, как значение зеркала превращается в значение CRM.
// Без цвета удаленное берется в [-...-], добавленное в {+...+}.
func FieldDiff(local, remote any, colored bool) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(displayValue(local), displayValue(remote), false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			sb.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			if colored {
				sb.WriteString(deleted.Sprint(d.Text))
			} else {
				sb.WriteString("[-" + d.Text + "-]")
			}
		case diffmatchpatch.DiffInsert:
			if colored {
				sb.WriteString(inserted.Sprint(d.Text))
			} else {
				sb.WriteString("{+" + d.Text + "+}")
			}
		}
	}
	return sb.String()
}

func displayValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}
