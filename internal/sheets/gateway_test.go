package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/model"
)

const testSpreadsheetID = "book-1"

// fakeWorkbook serves the subset of the Sheets values API the gateway uses.
// Row 0 of every tab is the header.
type fakeWorkbook struct {
	tabs     map[string][][]any
	failures []int
	calls    []string
	mu       sync.Mutex
}

func newFakeWorkbook() *fakeWorkbook {
	tabs := make(map[string][][]any, len(Tabs))
	for _, tab := range Tabs {
		tabs[tab] = [][]any{{"id", "data"}}
	}
	return &fakeWorkbook{tabs: tabs}
}

func (f *fakeWorkbook) failNext(codes ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, codes...)
}

func (f *fakeWorkbook) rows(tab string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tabs[tab]
}

func (f *fakeWorkbook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/"+testSpreadsheetID+"/")
	f.calls = append(f.calls, r.Method+" "+path)

	if len(f.failures) > 0 {
		code := f.failures[0]
		f.failures = f.failures[1:]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"injected failure"}}`, code)
		return
	}

	var resp any
	switch {
	case path == "values:batchGet":
		var ranges []*sheets.ValueRange
		for _, rng := range r.URL.Query()["ranges"] {
			tab, _ := parseA1(rng)
			var values [][]any
			if rows := f.tabs[tab]; len(rows) > 1 {
				values = rows[1:]
			}
			ranges = append(ranges, &sheets.ValueRange{Range: rng, Values: values})
		}
		resp = &sheets.BatchGetValuesResponse{SpreadsheetId: testSpreadsheetID, ValueRanges: ranges}

	case path == "values:batchUpdate":
		var req sheets.BatchUpdateValuesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, data := range req.Data {
			tab, row := parseA1(data.Range)
			f.setRow(tab, row, data.Values[0])
		}
		resp = &sheets.BatchUpdateValuesResponse{SpreadsheetId: testSpreadsheetID}

	case strings.HasSuffix(path, ":append"):
		var body sheets.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tab, _ := parseA1(strings.TrimSuffix(strings.TrimPrefix(path, "values/"), ":append"))
		f.tabs[tab] = append(f.tabs[tab], body.Values...)
		resp = &sheets.AppendValuesResponse{SpreadsheetId: testSpreadsheetID}

	case strings.HasSuffix(path, ":clear"):
		tab, row := parseA1(strings.TrimSuffix(strings.TrimPrefix(path, "values/"), ":clear"))
		f.setRow(tab, row, []any{})
		resp = &sheets.ClearValuesResponse{SpreadsheetId: testSpreadsheetID}

	case r.Method == http.MethodGet && strings.HasPrefix(path, "values/"):
		rng := strings.TrimPrefix(path, "values/")
		tab, _ := parseA1(rng)
		column := make([][]any, 0, len(f.tabs[tab]))
		for _, row := range f.tabs[tab] {
			if len(row) == 0 {
				column = append(column, []any{})
				continue
			}
			column = append(column, []any{row[0]})
		}
		resp = &sheets.ValueRange{Range: rng, Values: column}

	default:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeWorkbook) setRow(tab string, row int, values []any) {
	for len(f.tabs[tab]) < row {
		f.tabs[tab] = append(f.tabs[tab], []any{})
	}
	f.tabs[tab][row-1] = values
}

// parseA1 splits "Tab!A3:B3" into the tab and the starting row, 0 when the
// range has no row.
func parseA1(rng string) (string, int) {
	tab, cells, _ := strings.Cut(rng, "!")
	start, _, _ := strings.Cut(cells, ":")
	row, _ := strconv.Atoi(strings.TrimLeft(start, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
	return tab, row
}

func newTestGateway(t *testing.T, fake *fakeWorkbook) *Gateway {
	t.Helper()
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	srv, err := sheets.NewService(context.Background(),
		option.WithEndpoint(ts.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(ts.Client()))
	require.NoError(t, err)

	return NewGatewayWithService(srv, Config{
		SpreadsheetID: testSpreadsheetID,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}, nil)
}

func patronAction(t *testing.T, name model.ActionName, p model.Patron) model.Action {
	t.Helper()
	payload, err := model.MarshalPayload(p)
	require.NoError(t, err)
	return model.Action{ID: "req-" + p.ID, Name: name, Payload: payload}
}

func TestGateway_LoadAll(t *testing.T) {
	fake := newFakeWorkbook()
	fake.tabs[TabBooks] = append(fake.tabs[TabBooks],
		[]any{"T1", `{"id":"T1","title":"Four Reigns","author":"Kukrit Pramoj","items":[{"barcode":"B001","status":"Available"}]}`})
	fake.tabs[TabPatrons] = append(fake.tabs[TabPatrons],
		[]any{"P1", `{"id":"P1","name":"Somchai","status":"Active","finesOwed":"20"}`},
		[]any{"P2", "{broken"},
		[]any{},
		[]any{float64(3), `{"id":3,"name":"Niran"}`})
	fake.tabs[TabSubjects] = append(fake.tabs[TabSubjects],
		[]any{"S1", `{"id":"S1","name":"Thai Literature"}`})

	g := newTestGateway(t, fake)
	snapshot, err := g.LoadAll(context.Background())
	require.NoError(t, err)

	require.Len(t, snapshot.Titles, 1)
	assert.Equal(t, "Four Reigns", snapshot.Titles[0].Title)
	require.Len(t, snapshot.Titles[0].Items, 1)

	require.Len(t, snapshot.Patrons, 2, "the unreadable row is skipped")
	assert.Equal(t, "P1", snapshot.Patrons[0].ID)
	assert.Equal(t, "20", snapshot.Patrons[0].FinesOwed.String())
	assert.Equal(t, "3", snapshot.Patrons[1].ID)

	require.Len(t, snapshot.Subjects, 1)
	assert.Empty(t, snapshot.AcquisitionRequests)
	assert.Empty(t, snapshot.MarcTagDefinitions)
}

func TestGateway_LoadAllRetriesUnavailable(t *testing.T) {
	fake := newFakeWorkbook()
	fake.failNext(http.StatusServiceUnavailable)

	g := newTestGateway(t, fake)
	_, err := g.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, fake.calls, 2)
}

func TestGateway_LoadAllRejected(t *testing.T) {
	fake := newFakeWorkbook()
	fake.failNext(http.StatusForbidden)

	g := newTestGateway(t, fake)
	_, err := g.LoadAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrGatewayRejected)
	assert.False(t, common.IsRetryable(err))
	assert.Len(t, fake.calls, 1)
}

func TestGateway_SendActionUpsertsAndDeletes(t *testing.T) {
	fake := newFakeWorkbook()
	fake.tabs[TabPatrons] = append(fake.tabs[TabPatrons],
		[]any{"P1", `{"id":"P1","name":"Somchai"}`})
	g := newTestGateway(t, fake)
	ctx := context.Background()

	update := patronAction(t, model.ActionUpdatePatron, model.Patron{ID: "P1", Name: "Somchai J.", Status: model.PatronActive})
	require.NoError(t, g.SendAction(ctx, update))
	rows := fake.rows(TabPatrons)
	require.Len(t, rows, 2)
	assert.Equal(t, string(update.Payload), rows[1][1])

	// Replaying the same action leaves the workbook unchanged.
	require.NoError(t, g.SendAction(ctx, update))
	assert.Len(t, fake.rows(TabPatrons), 2)

	add := patronAction(t, model.ActionAddPatron, model.Patron{ID: "P2", Name: "Malee", Status: model.PatronActive})
	require.NoError(t, g.SendAction(ctx, add))
	rows = fake.rows(TabPatrons)
	require.Len(t, rows, 3)
	assert.Equal(t, "P2", rows[2][0])

	payload, err := model.MarshalPayload(model.DeletePayload{ID: "P1"})
	require.NoError(t, err)
	require.NoError(t, g.SendAction(ctx, model.Action{ID: "req-del", Name: model.ActionDeletePatron, Payload: payload}))
	assert.Empty(t, fake.rows(TabPatrons)[1])

	snapshot, err := g.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Patrons, 1)
	assert.Equal(t, "Malee", snapshot.Patrons[0].Name)
}

func TestGateway_SendActionBatchAndBooks(t *testing.T) {
	fake := newFakeWorkbook()
	g := newTestGateway(t, fake)
	ctx := context.Background()

	batch, err := model.MarshalPayload([]model.Patron{
		{ID: "P1", Name: "Somchai", Status: model.PatronActive},
		{ID: "P2", Name: "Malee", Status: model.PatronActive},
	})
	require.NoError(t, err)
	require.NoError(t, g.SendAction(ctx, model.Action{ID: "req-batch", Name: model.ActionUpdatePatronsBatch, Payload: batch}))
	assert.Len(t, fake.rows(TabPatrons), 3)

	title, err := model.MarshalPayload(model.Title{
		ID:    "T1",
		Title: "Four Reigns",
		Items: []model.Item{{Barcode: "B001", Status: model.ItemCheckedOut}},
	})
	require.NoError(t, err)
	require.NoError(t, g.SendAction(ctx, model.Action{ID: "req-book", Name: model.ActionUpdateBookStatus, Payload: title}))
	rows := fake.rows(TabBooks)
	require.Len(t, rows, 2)
	assert.Equal(t, "T1", rows[1][0])
}

func TestGateway_SendActionRejectsBadPayload(t *testing.T) {
	fake := newFakeWorkbook()
	g := newTestGateway(t, fake)

	err := g.SendAction(context.Background(), model.Action{ID: "x", Name: "renameLibrary", Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrGatewayRejected)
	assert.False(t, common.IsRetryable(err))
	assert.Empty(t, fake.calls, "nothing is sent for an unmappable action")
}

func TestRecordsFor(t *testing.T) {
	tests := []struct {
		name    string
		tab     string
		action  model.Action
		wantIDs []string
		wantErr bool
	}{
		{
			name:    "update patron",
			action:  model.Action{Name: model.ActionUpdatePatron, Payload: json.RawMessage(`{"id":"P1","name":"Somchai"}`)},
			tab:     TabPatrons,
			wantIDs: []string{"P1"},
		},
		{
			name:    "patron id as number",
			action:  model.Action{Name: model.ActionAddPatron, Payload: json.RawMessage(`{"id":42,"name":"Niran"}`)},
			tab:     TabPatrons,
			wantIDs: []string{"42"},
		},
		{
			name:    "batch",
			action:  model.Action{Name: model.ActionUpdatePatronsBatch, Payload: json.RawMessage(`[{"id":"P1"},{"id":"P2"}]`)},
			tab:     TabPatrons,
			wantIDs: []string{"P1", "P2"},
		},
		{
			name:    "delete",
			action:  model.Action{Name: model.ActionDeletePatron, Payload: json.RawMessage(`{"id":"P9"}`)},
			tab:     TabPatrons,
			wantIDs: []string{"P9"},
		},
		{
			name:    "book details",
			action:  model.Action{Name: model.ActionUpdateBookDetails, Payload: json.RawMessage(`{"id":"T1","title":"Four Reigns"}`)},
			tab:     TabBooks,
			wantIDs: []string{"T1"},
		},
		{
			name:    "delete without id",
			action:  model.Action{Name: model.ActionDeletePatron, Payload: json.RawMessage(`{}`)},
			wantErr: true,
		},
		{
			name:    "patron without id",
			action:  model.Action{Name: model.ActionUpdatePatron, Payload: json.RawMessage(`{"name":"nobody"}`)},
			wantErr: true,
		},
		{
			name:    "batch that is not a list",
			action:  model.Action{Name: model.ActionUpdatePatronsBatch, Payload: json.RawMessage(`{"id":"P1"}`)},
			wantErr: true,
		},
		{
			name:    "unknown action",
			action:  model.Action{Name: "archive", Payload: json.RawMessage(`{}`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tab, records, err := recordsFor(tt.action)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.tab, tab)

			ids := make([]string, 0, len(records))
			for _, rec := range records {
				ids = append(ids, rec.id)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestRecordsFor_CellLimit(t *testing.T) {
	patron := func(chars int) json.RawMessage {
		const prefix, suffix = `{"id":"P1","name":"`, `"}`
		return json.RawMessage(prefix + strings.Repeat("ก", chars-len(prefix)-len(suffix)) + suffix)
	}

	_, records, err := recordsFor(model.Action{Name: model.ActionUpdatePatron, Payload: patron(maxCellChars)})
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, _, err = recordsFor(model.Action{Name: model.ActionUpdatePatron, Payload: patron(maxCellChars + 1)})
	require.ErrorIs(t, err, ErrCellTooLarge)
	assert.Contains(t, err.Error(), "P1")

	batch := json.RawMessage(`[{"id":"P2"},` + string(patron(maxCellChars+1)) + `]`)
	_, _, err = recordsFor(model.Action{Name: model.ActionUpdatePatronsBatch, Payload: batch})
	assert.ErrorIs(t, err, ErrCellTooLarge)
}

func TestGateway_SendActionRejectsOversizedRecord(t *testing.T) {
	fake := newFakeWorkbook()
	g := newTestGateway(t, fake)

	payload := json.RawMessage(`{"id":"P1","name":"` + strings.Repeat("x", maxCellChars) + `"}`)
	err := g.SendAction(context.Background(), model.Action{ID: "big", Name: model.ActionUpdatePatron, Payload: payload})
	require.ErrorIs(t, err, ErrCellTooLarge)
	assert.ErrorIs(t, err, common.ErrGatewayRejected)
	assert.False(t, common.IsRetryable(err))
	assert.Empty(t, fake.calls)
}

func TestRowIndex(t *testing.T) {
	column := [][]any{{"id"}, {"P1"}, {}, {float64(7)}, {"P3"}}

	assert.Equal(t, 2, rowIndex(column, "P1"))
	assert.Equal(t, 4, rowIndex(column, "7"))
	assert.Equal(t, 5, rowIndex(column, "P3"))
	assert.Equal(t, -1, rowIndex(column, "id"), "the header never matches")
	assert.Equal(t, -1, rowIndex(column, "P9"))
	assert.Equal(t, -1, rowIndex(nil, "P1"))
}

func TestPlanUpsert(t *testing.T) {
	column := [][]any{{"id"}, {"P1"}, {"P2"}}
	records := []record{
		{id: "P2", data: "old"},
		{id: "P4", data: "new"},
		{id: "P2", data: "latest"},
	}

	updates, appends := planUpsert(TabPatrons, column, records)

	require.Len(t, updates, 1)
	assert.Equal(t, "Patrons!A3:B3", updates[0].Range)
	assert.Equal(t, [][]any{{"P2", "latest"}}, updates[0].Values)
	assert.Equal(t, [][]any{{"P4", "new"}}, appends)
}

func TestSnapshotDocument(t *testing.T) {
	doc, skipped, err := snapshotDocument(map[string][][]any{
		TabPatrons: {
			{"P1", `{"id":"P1"}`},
			{"P2"},
			{"P3", "  "},
			{"P4", "nope"},
		},
	})
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0].Error(), "Patrons row 5 (id P4)")

	var decoded map[string][]json.RawMessage
	require.NoError(t, json.Unmarshal(doc, &decoded))
	assert.Len(t, decoded["patrons"], 1)
	assert.Empty(t, decoded["books"])
	assert.Contains(t, decoded, "marcTags")
}

func TestCellString(t *testing.T) {
	assert.Equal(t, "", cellString(nil))
	assert.Equal(t, "P1", cellString("P1"))
	assert.Equal(t, "1024", cellString(float64(1024)))
	assert.Equal(t, "12.5", cellString(12.5))
	assert.Equal(t, "true", cellString(true))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		want      error
		name      string
		retryable bool
	}{
		{name: "rate limited", err: &googleapi.Error{Code: http.StatusTooManyRequests}, want: common.ErrRateLimit, retryable: true},
		{name: "server error", err: &googleapi.Error{Code: http.StatusBadGateway}, want: common.ErrGatewayUnavailable, retryable: true},
		{name: "forbidden", err: &googleapi.Error{Code: http.StatusForbidden}, want: common.ErrGatewayRejected},
		{name: "not found", err: &googleapi.Error{Code: http.StatusNotFound}, want: common.ErrGatewayRejected},
		{name: "transport", err: errors.New("connection reset"), want: common.ErrGatewayUnavailable, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.Equal(t, tt.retryable, common.IsRetryable(got))
		})
	}

	assert.NoError(t, classify(nil))
}
