package conflict

import (
	"sort"

	"keapsync/internal/domain/entity"
)

// FieldConflict поле, измененное с обеих сторон относительно базовой версии
type FieldConflict struct {
	Field    string `json:"field"`
	Local    any    `json:"local"`
	Remote   any    `json:"remote"`
	Baseline any    `json:"baseline"`
}

// Result итог трехстороннего сравнения
type Result struct {
	Clean     bool
	Conflicts []FieldConflict
	// Merged содержит значения всех неконфликтующих полей: побеждает сторона, отошедшая от базы
	Merged entity.Fields
	// LocalKept поля, где сохранено локальное значение зеркала
	LocalKept []string
}

// ConflictFields возвращает имена конфликтующих полей
func (r Result) ConflictFields() []string {
	names := make([]string, 0, len(r.Conflicts))
	for _, c := range r.Conflicts {
		names = append(names, c.Field)
	}
	return names
}

// Detect сравнивает входящую сущность с сохраненной строкой и базовой версией
func Detect(incoming, stored *entity.MirrorEntity, baseline *entity.Snapshot) Result {
	if stored == nil {
		return Result{Clean: true, Merged: incoming.Fields.Clone()}
	}

	if baseline == nil {
		// без базы нельзя понять, кто что менял: любое расхождение считается конфликтом
		res := Result{Merged: entity.Fields{}}
		diff := make(map[string]bool)
		for _, f := range incoming.Fields.Diff(stored.Fields) {
			diff[f] = true
			res.Conflicts = append(res.Conflicts, FieldConflict{
				Field:  f,
				Local:  stored.Fields[f],
				Remote: incoming.Fields[f],
			})
		}
		for f, v := range incoming.Fields {
			if !diff[f] {
				res.Merged[f] = v
			}
		}
		res.Clean = len(res.Conflicts) == 0
		return res
	}

	res := Result{Merged: entity.Fields{}}
	for _, f := range fieldUnion(incoming.Fields, stored.Fields, baseline.Fields) {
		local, localOK := stored.Fields[f]
		remote, remoteOK := incoming.Fields[f]
		base := baseline.Fields[f]

		localDiverged := !entity.ValueEqual(local, base)
		remoteDiverged := !entity.ValueEqual(remote, base)

		switch {
		case localDiverged && remoteDiverged && !entity.ValueEqual(local, remote):
			res.Conflicts = append(res.Conflicts, FieldConflict{
				Field:    f,
				Local:    local,
				Remote:   remote,
				Baseline: base,
			})
		case localDiverged && !remoteDiverged:
			if localOK {
				res.Merged[f] = local
				res.LocalKept = append(res.LocalKept, f)
			}
		default:
			if remoteOK {
				res.Merged[f] = remote
			}
		}
	}
	res.Clean = len(res.Conflicts) == 0
	return res
}

// Resolve применяет стратегию к конфликтам; возвращает итоговые поля и то, что стратегия не решила
func Resolve(res Result, s Strategy) (entity.Fields, []FieldConflict) {
	merged := res.Merged.Clone()
	if merged == nil {
		merged = entity.Fields{}
	}
	var unresolved []FieldConflict
	for _, c := range res.Conflicts {
		v, ok := s(c.Field, c.Local, c.Remote, c.Baseline)
		if !ok {
			unresolved = append(unresolved, c)
			continue
		}
		merged[c.Field] = v
	}
	return merged, unresolved
}

func fieldUnion(sets ...entity.Fields) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for k := range set {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
