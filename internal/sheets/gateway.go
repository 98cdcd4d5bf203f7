package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/model"
	"github.com/Veraticus/circdesk/internal/service"
)

// maxCellChars is the most characters Google Sheets stores in one cell.
const maxCellChars = 50000

// ErrCellTooLarge is returned when a record's JSON does not fit in one cell.
var ErrCellTooLarge = errors.New("record too large for a sheet cell")

var snapshotKeys = map[string]string{
	TabBooks:        "books",
	TabPatrons:      "patrons",
	TabSubjects:     "subjects",
	TabAcquisitions: "acquisitions",
	TabMarcTags:     "marcTags",
}

// Gateway implements service.Gateway on a Google Sheets workbook.
type Gateway struct {
	service *sheets.Service
	logger  *slog.Logger
	config  Config
}

// NewGateway creates a gateway authenticated from config.
func NewGateway(ctx context.Context, config Config, logger *slog.Logger) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	srv, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return NewGatewayWithService(srv, config, logger), nil
}

// NewGatewayWithService wraps an existing Sheets service.
func NewGatewayWithService(srv *sheets.Service, config Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		service: srv,
		config:  config,
		logger:  logger,
	}
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		token := &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		}
		if config.RefreshToken == "" {
			saved, err := LoadToken(config.TokenFile)
			if err != nil {
				return nil, fmt.Errorf("no refresh token configured and %s unreadable (run `circ auth sheets`): %w", config.TokenFile, err)
			}
			token = saved
		}
		tokenSource = oauthConfig(config.ClientID, config.ClientSecret, "").TokenSource(ctx, token)
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}
	return srv, nil
}

func (g *Gateway) retryOptions() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  g.config.RetryAttempts,
		InitialDelay: g.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// LoadAll reads every collection tab and decodes the result as a snapshot.
// Rows whose data cell is not valid JSON are skipped with a warning.
func (g *Gateway) LoadAll(ctx context.Context) (*model.Snapshot, error) {
	ranges := make([]string, 0, len(Tabs))
	for _, tab := range Tabs {
		ranges = append(ranges, dataRange(tab))
	}

	var resp *sheets.BatchGetValuesResponse
	err := common.WithRetry(ctx, func() error {
		var callErr error
		resp, callErr = g.service.Spreadsheets.Values.BatchGet(g.config.SpreadsheetID).
			Ranges(ranges...).
			ValueRenderOption("UNFORMATTED_VALUE").
			Context(ctx).
			Do()
		return classify(callErr)
	}, g.retryOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to read spreadsheet %s: %w", g.config.SpreadsheetID, err)
	}

	byTab := make(map[string][][]any, len(Tabs))
	for i, vr := range resp.ValueRanges {
		if i < len(Tabs) {
			byTab[Tabs[i]] = vr.Values
		}
	}

	doc, skipped, err := snapshotDocument(byTab)
	if err != nil {
		return nil, err
	}
	for _, rowErr := range skipped {
		g.logger.Warn("Skipping unreadable row", "error", rowErr)
	}

	snapshot, err := model.DecodeSnapshot(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode spreadsheet data: %w", err)
	}

	g.logger.Debug("Loaded spreadsheet",
		"spreadsheet_id", g.config.SpreadsheetID,
		"books", len(snapshot.Titles),
		"patrons", len(snapshot.Patrons))
	return snapshot, nil
}

// SendAction applies one action to the workbook. Writes are keyed by record
// id, so replaying an action leaves the workbook unchanged.
func (g *Gateway) SendAction(ctx context.Context, action model.Action) error {
	tab, records, err := recordsFor(action)
	if err != nil {
		return common.Permanent(fmt.Errorf("%w: %w", common.ErrGatewayRejected, err))
	}

	column, err := g.readIDColumn(ctx, tab)
	if err != nil {
		return err
	}

	if action.Name == model.ActionDeletePatron {
		return g.clearRows(ctx, tab, column, records)
	}
	return g.upsertRows(ctx, tab, column, records)
}

func (g *Gateway) readIDColumn(ctx context.Context, tab string) ([][]any, error) {
	resp, err := g.service.Spreadsheets.Values.Get(g.config.SpreadsheetID, tab+"!A:A").
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s ids: %w", tab, classify(err))
	}
	return resp.Values, nil
}

func (g *Gateway) upsertRows(ctx context.Context, tab string, column [][]any, records []record) error {
	updates, appends := planUpsert(tab, column, records)

	if len(updates) > 0 {
		_, err := g.service.Spreadsheets.Values.BatchUpdate(g.config.SpreadsheetID, &sheets.BatchUpdateValuesRequest{
			ValueInputOption: "RAW",
			Data:             updates,
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to update %s rows: %w", tab, classify(err))
		}
	}

	if len(appends) > 0 {
		_, err := g.service.Spreadsheets.Values.Append(g.config.SpreadsheetID, tab+"!A:B", &sheets.ValueRange{
			Values: appends,
		}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to append %s rows: %w", tab, classify(err))
		}
	}

	g.logger.Debug("Wrote rows", "tab", tab, "updated", len(updates), "appended", len(appends))
	return nil
}

func (g *Gateway) clearRows(ctx context.Context, tab string, column [][]any, records []record) error {
	for _, rec := range records {
		row := rowIndex(column, rec.id)
		if row < 0 {
			continue
		}
		rng := fmt.Sprintf("%s!A%d:B%d", tab, row, row)
		_, err := g.service.Spreadsheets.Values.Clear(g.config.SpreadsheetID, rng, &sheets.ClearValuesRequest{}).
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("failed to clear %s: %w", rng, classify(err))
		}
	}
	return nil
}

// EnsureWorkbook creates the spreadsheet when no id is configured and adds any
// missing collection tabs with a header row. It returns the spreadsheet id.
func (g *Gateway) EnsureWorkbook(ctx context.Context) (string, error) {
	if g.config.SpreadsheetID == "" {
		spreadsheet := &sheets.Spreadsheet{
			Properties: &sheets.SpreadsheetProperties{
				Title:    g.config.SpreadsheetName,
				TimeZone: g.config.TimeZone,
			},
		}
		for _, tab := range Tabs {
			spreadsheet.Sheets = append(spreadsheet.Sheets, &sheets.Sheet{
				Properties: &sheets.SheetProperties{Title: tab},
			})
		}

		created, err := g.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("unable to create spreadsheet: %w", classify(err))
		}
		g.config.SpreadsheetID = created.SpreadsheetId
		g.logger.Info("Created new spreadsheet",
			"id", created.SpreadsheetId,
			"url", created.SpreadsheetUrl)
		return created.SpreadsheetId, g.writeHeaders(ctx, Tabs)
	}

	existing, err := g.service.Spreadsheets.Get(g.config.SpreadsheetID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to access spreadsheet %s: %w", g.config.SpreadsheetID, classify(err))
	}

	present := make(map[string]bool, len(existing.Sheets))
	for _, sh := range existing.Sheets {
		if sh.Properties != nil {
			present[sh.Properties.Title] = true
		}
	}

	var missing []string
	var requests []*sheets.Request
	for _, tab := range Tabs {
		if present[tab] {
			continue
		}
		missing = append(missing, tab)
		requests = append(requests, &sheets.Request{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: tab},
			},
		})
	}
	if len(requests) == 0 {
		return g.config.SpreadsheetID, nil
	}

	_, err = g.service.Spreadsheets.BatchUpdate(g.config.SpreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to add tabs: %w", classify(err))
	}
	g.logger.Info("Added missing tabs", "tabs", strings.Join(missing, ", "))
	return g.config.SpreadsheetID, g.writeHeaders(ctx, missing)
}

func (g *Gateway) writeHeaders(ctx context.Context, tabs []string) error {
	data := make([]*sheets.ValueRange, 0, len(tabs))
	for _, tab := range tabs {
		data = append(data, &sheets.ValueRange{
			Range:  tab + "!A1:B1",
			Values: [][]any{{"id", "data"}},
		})
	}
	_, err := g.service.Spreadsheets.Values.BatchUpdate(g.config.SpreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write headers: %w", classify(err))
	}
	return nil
}

// record is one row to write: the record id and its JSON document.
type record struct {
	id   string
	data string
}

// recordsFor maps an action to the tab it touches and the rows it writes.
func recordsFor(action model.Action) (string, []record, error) {
	tab, records, err := actionRecords(action)
	if err != nil {
		return "", nil, err
	}
	for _, rec := range records {
		if n := utf8.RuneCountInString(rec.data); n > maxCellChars {
			return "", nil, fmt.Errorf("%w: %s is %d characters, a cell holds %d",
				ErrCellTooLarge, rec.id, n, maxCellChars)
		}
	}
	return tab, records, nil
}

func actionRecords(action model.Action) (string, []record, error) {
	switch action.Name {
	case model.ActionAddPatron, model.ActionUpdatePatron:
		p, err := model.DecodePatron(action.Payload)
		if err != nil {
			return "", nil, err
		}
		return TabPatrons, []record{{id: p.ID, data: string(action.Payload)}}, nil

	case model.ActionUpdatePatronsBatch:
		var raws []json.RawMessage
		if err := json.Unmarshal(action.Payload, &raws); err != nil {
			return "", nil, fmt.Errorf("batch payload: %w", err)
		}
		records := make([]record, 0, len(raws))
		for _, raw := range raws {
			p, err := model.DecodePatron(raw)
			if err != nil {
				return "", nil, err
			}
			records = append(records, record{id: p.ID, data: string(raw)})
		}
		return TabPatrons, records, nil

	case model.ActionDeletePatron:
		var payload model.DeletePayload
		if err := json.Unmarshal(action.Payload, &payload); err != nil {
			return "", nil, fmt.Errorf("delete payload: %w", err)
		}
		if payload.ID == "" {
			return "", nil, fmt.Errorf("delete payload has no id")
		}
		return TabPatrons, []record{{id: payload.ID}}, nil

	case model.ActionUpdateBookStatus, model.ActionUpdateBookDetails:
		t, err := model.DecodeTitle(action.Payload)
		if err != nil {
			return "", nil, err
		}
		return TabBooks, []record{{id: t.ID, data: string(action.Payload)}}, nil
	}
	return "", nil, fmt.Errorf("unknown action %q", action.Name)
}

// dataRange is the A1 range holding a tab's records, below the header row.
func dataRange(tab string) string {
	return tab + "!A2:B"
}

// rowIndex returns the 1-based sheet row holding id in an A:A column read,
// or -1. Row 1 is the header.
func rowIndex(column [][]any, id string) int {
	for i, row := range column {
		if i == 0 || len(row) == 0 {
			continue
		}
		if cellString(row[0]) == id {
			return i + 1
		}
	}
	return -1
}

// planUpsert splits records into in-place updates of existing rows and new
// rows to append. A record repeated in one batch is written once, last wins.
func planUpsert(tab string, column [][]any, records []record) ([]*sheets.ValueRange, [][]any) {
	latest := make(map[string]int, len(records))
	for i, rec := range records {
		latest[rec.id] = i
	}

	var updates []*sheets.ValueRange
	var appends [][]any
	for i, rec := range records {
		if latest[rec.id] != i {
			continue
		}
		if row := rowIndex(column, rec.id); row > 0 {
			updates = append(updates, &sheets.ValueRange{
				Range:  fmt.Sprintf("%s!A%d:B%d", tab, row, row),
				Values: [][]any{{rec.id, rec.data}},
			})
			continue
		}
		appends = append(appends, []any{rec.id, rec.data})
	}
	return updates, appends
}

// snapshotDocument assembles tab rows into one JSON document in the shape
// model.DecodeSnapshot expects. Empty rows are ignored.
func snapshotDocument(byTab map[string][][]any) ([]byte, []error, error) {
	var skipped []error
	doc := make(map[string][]json.RawMessage, len(Tabs))

	for _, tab := range Tabs {
		elems := make([]json.RawMessage, 0, len(byTab[tab]))
		for i, row := range byTab[tab] {
			if len(row) < 2 {
				continue
			}
			data := strings.TrimSpace(cellString(row[1]))
			if data == "" {
				continue
			}
			if !json.Valid([]byte(data)) {
				skipped = append(skipped, fmt.Errorf("%s row %d (id %s): invalid JSON", tab, i+2, cellString(row[0])))
				continue
			}
			elems = append(elems, json.RawMessage(data))
		}
		doc[snapshotKeys[tab]] = elems
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, skipped, fmt.Errorf("failed to assemble snapshot: %w", err)
	}
	return out, skipped, nil
}

func cellString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	default:
		return fmt.Sprint(c)
	}
}

// classify maps Sheets API failures onto retry semantics.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", common.ErrGatewayUnavailable, err)
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case apiErr.Code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", common.ErrGatewayUnavailable, err)
	default:
		return common.Permanent(fmt.Errorf("%w: %w", common.ErrGatewayRejected, err))
	}
}
