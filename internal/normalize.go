package internal

import (
	stdjson "encoding/json"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// FieldMapping binds one external field (plus fallbacks tried in order) to an
// internal column.
type FieldMapping struct {
	Source  string
	Aliases []string
	Target  string
	Kind    ColumnKind
	Default Cell
}

// DefaultFieldMappings covers the League-V4 entry shape. Newer payloads
// identify players by puuid only, so it backs up summonerId.
var DefaultFieldMappings = []FieldMapping{
	{Source: "summonerName", Aliases: []string{"riotId", "gameName"}, Target: ColPlayerName, Kind: ColumnString, Default: StringCell(UnknownPlayerName)},
	{Source: "summonerId", Aliases: []string{"puuid"}, Target: ColSummonerID, Kind: ColumnString, Default: StringCell("")},
	{Source: "leaguePoints", Target: ColLP, Kind: ColumnNumber, Default: NumberCell(0)},
	{Source: "wins", Target: ColWins, Kind: ColumnNumber, Default: NumberCell(0)},
	{Source: "losses", Target: ColLosses, Kind: ColumnNumber, Default: NumberCell(0)},
}

// FieldMappingsFromConfig is DefaultFieldMappings followed by the configured
// extra fields. Extra numeric fields default to null and extra strings to "".
func FieldMappingsFromConfig(cfg *Config) []FieldMapping {
	mappings := append([]FieldMapping(nil), DefaultFieldMappings...)
	for _, f := range cfg.ExtraFields {
		m := FieldMapping{Source: f.Source, Target: f.Target, Kind: ColumnString, Default: StringCell("")}
		if f.Kind == "number" {
			m.Kind = ColumnNumber
			m.Default = NullCell()
		}
		mappings = append(mappings, m)
	}
	return mappings
}

// FieldResolution records how one mapped column was populated.
type FieldResolution struct {
	Target    string `json:"target"`
	Source    string `json:"source,omitempty"`
	Present   bool   `json:"present"`
	Defaulted int    `json:"defaulted"`
	Nulls     int    `json:"nulls"`
}

type NormalizeResult struct {
	Table      *Table
	Fields     []FieldResolution
	Duplicates int
}

// Drifted returns the mapped fields the input did not carry at all.
func (r NormalizeResult) Drifted() []FieldResolution {
	var out []FieldResolution
	for _, f := range r.Fields {
		if !f.Present {
			out = append(out, f)
		}
	}
	return out
}

type Normalizer struct {
	mappings []FieldMapping
	logger   *Logger
}

func NewNormalizer(logger *Logger, mappings []FieldMapping) *Normalizer {
	if len(mappings) == 0 {
		mappings = DefaultFieldMappings
	}
	return &Normalizer{mappings: mappings, logger: logger}
}

func (n *Normalizer) Normalize(entries []RawEntry) (NormalizeResult, error) {
	if len(entries) == 0 {
		n.logger.Error("normalize_input_empty").
			Component("normalizer").
			Operation("normalize").
			Log()
		return NormalizeResult{}, newPipelineError(KindEmptyInput, "normalize", nil)
	}

	columns := make([]Column, len(n.mappings))
	resolutions := make([]FieldResolution, len(n.mappings))
	for i, m := range n.mappings {
		columns[i] = Column{Name: m.Target, Kind: m.Kind}
		resolutions[i] = n.resolve(m, entries)
	}

	table := NewTable(columns...)
	seen := make(map[string]bool, len(entries))
	idIdx := table.Index(ColSummonerID)
	duplicates := 0

	for _, entry := range entries {
		row := make([]Cell, len(n.mappings))
		for i, m := range n.mappings {
			cell, state := n.extract(m, entry)
			switch state {
			case valueDefaulted:
				resolutions[i].Defaulted++
			case valueNull:
				resolutions[i].Nulls++
			}
			row[i] = cell
		}

		if idIdx >= 0 {
			id := row[idIdx].Str
			if id != "" && seen[id] {
				duplicates++
				continue
			}
			seen[id] = true
		}
		_ = table.AppendRow(row)
	}

	if duplicates > 0 {
		n.logger.Warn("duplicate_summoner_ids_dropped").
			Component("normalizer").
			Operation("dedupe").
			Meta("duplicates", duplicates).
			Log()
	}

	n.logger.Info("normalize_completed").
		Component("normalizer").
		Operation("normalize").
		Rows(table.Len()).
		Meta("input_entries", len(entries)).
		Log()

	return NormalizeResult{Table: table, Fields: resolutions, Duplicates: duplicates}, nil
}

// resolve reports which source key the batch carries for m. A field no entry
// carries is schema drift: the column is still produced from defaults.
func (n *Normalizer) resolve(m FieldMapping, entries []RawEntry) FieldResolution {
	res := FieldResolution{Target: m.Target}
	for _, key := range m.keys() {
		for _, e := range entries {
			if _, ok := e[key]; ok {
				res.Source = key
				res.Present = true
				return res
			}
		}
	}

	n.logger.Warn("schema_drift_default_injected").
		Component("normalizer").
		Operation("resolve_field").
		ErrorCode(string(KindSchemaDrift)).
		Meta("source_field", m.Source).
		Meta("target_field", m.Target).
		Meta("default", defaultDisplay(m)).
		Log()
	return res
}

type valueState int

const (
	valuePresent valueState = iota
	valueDefaulted
	valueNull
)

func (m FieldMapping) keys() []string {
	return append([]string{m.Source}, m.Aliases...)
}

// extract reads m from one entry. A field the entry does not carry at all
// takes the mapping default. A numeric field that is present but null or
// unparseable becomes a null cell so imputation can see it.
func (n *Normalizer) extract(m FieldMapping, entry RawEntry) (Cell, valueState) {
	var raw interface{}
	found := false
	for _, key := range m.keys() {
		if v, ok := entry[key]; ok && v != nil {
			if s, isStr := v.(string); isStr && s == "" && m.Kind == ColumnString {
				continue
			}
			raw = v
			found = true
			break
		}
	}

	if m.Kind == ColumnString {
		if !found {
			return m.Default, valueDefaulted
		}
		return StringCell(toString(raw)), valuePresent
	}

	if !found {
		if hasAnyKey(entry, m.keys()) {
			return NullCell(), valueNull
		}
		return m.Default, valueDefaulted
	}
	f, ok := toFloat(raw)
	if !ok {
		return NullCell(), valueNull
	}
	return NumberCell(f), valuePresent
}

func hasAnyKey(entry RawEntry, keys []string) bool {
	for _, k := range keys {
		if _, ok := entry[k]; ok {
			return true
		}
	}
	return false
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case stdjson.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		data, _ := json.Marshal(x)
		return string(data)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case stdjson.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func defaultDisplay(m FieldMapping) interface{} {
	if m.Default.Null {
		return nil
	}
	if m.Kind == ColumnString {
		return m.Default.Str
	}
	return m.Default.Num
}
