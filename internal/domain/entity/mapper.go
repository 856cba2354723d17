package entity

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://keapsync.local/schema/"

// Record типизированная форма сущности CRM (tagged union по Type)
type Record interface {
	EntityType() Type
	ExternalID() string
	Validate() error
}

type builder func(id string, raw json.RawMessage) (Record, error)

// Mapper переводит сырые payload Keap в строки зеркала. Чистая функция от входа.
type Mapper struct {
	schemas          map[Type]*jsonschema.Schema
	builders         map[Type]builder
	activeClientTags map[string]struct{}
}

type Option func(*Mapper)

// WithActiveClientTags задает имена или id тегов, означающих активного клиента
func WithActiveClientTags(tags ...string) Option {
	return func(m *Mapper) {
		for _, tag := range tags {
			if tag = strings.ToLower(text(tag)); tag != "" {
				m.activeClientTags[tag] = struct{}{}
			}
		}
	}
}

func NewMapper(opts ...Option) (*Mapper, error) {
	m := &Mapper{
		schemas:          make(map[Type]*jsonschema.Schema, len(Types)),
		activeClientTags: make(map[string]struct{}),
	}
	m.builders = map[Type]builder{
		TypeContact:      m.buildContact,
		TypeOrder:        m.buildOrder,
		TypeSubscription: m.buildSubscription,
		TypeTag:          m.buildTag,
	}
	for _, opt := range opts {
		opt(m)
	}

	compiler := jsonschema.NewCompiler()
	for _, t := range Types {
		data, err := schemaFS.ReadFile("schema/" + string(t) + ".json")
		if err != nil {
			return nil, fmt.Errorf("read %s schema: %w", t, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse %s schema: %w", t, err)
		}
		url := schemaBaseURL + string(t) + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", t, err)
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", t, err)
		}
		m.schemas[t] = sch
	}
	return m, nil
}

// Decode проверяет payload по схеме и собирает типизированную запись
func (m *Mapper) Decode(t Type, raw json.RawMessage) (Record, error) {
	if err := t.Validate(); err != nil {
		return nil, &MappingError{Type: t, Reason: err.Error()}
	}
	id, _ := ExternalID(raw)

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, mappingErr(t, id, "invalid json: %v", err)
	}
	if err := m.schemas[t].Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, mappingErr(t, id, "schema: %s", strings.TrimSpace(verr.Error()))
		}
		return nil, mappingErr(t, id, "schema: %v", err)
	}
	if id == "" {
		return nil, mappingErr(t, "", "external id is absent or malformed")
	}

	rec, err := m.builders[t](id, raw)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, mappingErr(t, id, "%v", err)
	}
	return rec, nil
}

// Map возвращает строку зеркала для payload; одинаковый вход дает одинаковый результат
func (m *Mapper) Map(t Type, raw json.RawMessage) (*MirrorEntity, error) {
	rec, err := m.Decode(t, raw)
	if err != nil {
		return nil, err
	}
	fields, err := FieldsOf(rec)
	if err != nil {
		return nil, mappingErr(t, rec.ExternalID(), "%v", err)
	}
	modifiedAt, _ := ModifiedAt(raw)

	return &MirrorEntity{
		Type:           t,
		KeapID:         rec.ExternalID(),
		Fields:         fields,
		ModifiedAt:     modifiedAt,
		SyncDirection:  DirectionKeapToMirror,
		ConflictStatus: ConflictNone,
	}, nil
}
