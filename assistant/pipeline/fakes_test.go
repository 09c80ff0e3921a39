package pipeline

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/frostlabs/snowgpt/assistant/gen"
	"github.com/frostlabs/snowgpt/warehouse"
)

// scriptedGen returns canned responses per prompt kind. Responses for
// a kind are consumed in order; the last one repeats.
type scriptedGen struct {
	mu        sync.Mutex
	responses map[gen.PromptKind][]string
	errs      map[gen.PromptKind]error
	calls     map[gen.PromptKind]int
	payloads  map[gen.PromptKind][]string
}

func newScriptedGen() *scriptedGen {
	return &scriptedGen{
		responses: make(map[gen.PromptKind][]string),
		errs:      make(map[gen.PromptKind]error),
		calls:     make(map[gen.PromptKind]int),
		payloads:  make(map[gen.PromptKind][]string),
	}
}

func (s *scriptedGen) on(kind gen.PromptKind, responses ...string) {
	s.responses[kind] = responses
}

func (s *scriptedGen) failOn(kind gen.PromptKind, err error) {
	s.errs[kind] = err
}

func (s *scriptedGen) count(kind gen.PromptKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

func (s *scriptedGen) Generate(_ context.Context, kind gen.PromptKind, payload string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls[kind]
	s.calls[kind] = n + 1
	s.payloads[kind] = append(s.payloads[kind], payload)

	if err := s.errs[kind]; err != nil {
		return nil, &gen.GenerationError{Kind: kind, Err: err}
	}
	responses := s.responses[kind]
	if len(responses) == 0 {
		return nil, &gen.GenerationError{Kind: kind, Err: errors.New("no scripted response")}
	}
	if n >= len(responses) {
		n = len(responses) - 1
	}
	return json.RawMessage(responses[n]), nil
}

// fakeWarehouse serves canned tables and scripted validation/execution
// failures.
type fakeWarehouse struct {
	mu           sync.Mutex
	tables       map[string]*warehouse.TabularResult
	execErrs     map[string]error
	validateErrs map[string]error
	defaultTable *warehouse.TabularResult
	execCalls    []string
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		tables:       make(map[string]*warehouse.TabularResult),
		execErrs:     make(map[string]error),
		validateErrs: make(map[string]error),
		defaultTable: twoColumnTable(),
	}
}

func twoColumnTable() *warehouse.TabularResult {
	return &warehouse.TabularResult{
		Columns: []warehouse.Column{
			{Name: "region", Kind: warehouse.KindText},
			{Name: "total", Kind: warehouse.KindNumeric},
		},
		Rows: [][]any{{"EMEA", 100.5}, {"APAC", 88.0}},
	}
}

func (f *fakeWarehouse) CurrentDatabase() string { return "analytics" }
func (f *fakeWarehouse) CurrentSchema() string   { return "public" }

func (f *fakeWarehouse) ListTables(context.Context) ([]warehouse.TableInfo, error) {
	return []warehouse.TableInfo{{Schema: "public", Name: "sales", Type: "BASE TABLE"}}, nil
}

func (f *fakeWarehouse) ColumnMetadata(context.Context, []string) ([]warehouse.ColumnInfo, error) {
	return []warehouse.ColumnInfo{
		{Table: "sales", Name: "region", Position: 1, DataType: "text"},
		{Table: "sales", Name: "total", Position: 2, DataType: "numeric"},
	}, nil
}

func (f *fakeWarehouse) Execute(_ context.Context, query string) (*warehouse.TabularResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls = append(f.execCalls, query)
	if err, ok := f.execErrs[query]; ok {
		return nil, &warehouse.ExecutionError{Query: query, Err: err}
	}
	if t, ok := f.tables[query]; ok {
		return t, nil
	}
	return f.defaultTable, nil
}

func (f *fakeWarehouse) Validate(_ context.Context, query string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validateErrs[query]
}
