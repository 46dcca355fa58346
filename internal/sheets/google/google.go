package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	applog "moneta/internal/log"
	ports "moneta/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Ensure interface conformance
var (
	_ ports.RecordWriter = (*Client)(nil)
	_ ports.RecordLister = (*Client)(nil)
)

// Options configures the Sheets sink.
type Options struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
	// TabPrefix is prepended to table names to form sheet tab names.
	TabPrefix string
}

// Client appends change-tracked rows to one tab per table. Row 1 of each tab
// is the header; columns first seen in a later record are appended to it.
// A re-uploaded row is appended again, so a tab reads as a change log and
// ListRecords keeps the last line per id.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	tabPrefix     string
	log           *applog.Logger

	mu      sync.Mutex
	tabs    map[string]bool
	headers map[string][]string
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options, logger *applog.Logger) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, opts, logger), nil
}

// NewWithService wraps an already configured Sheets service.
func NewWithService(svc *gsheet.Service, opts Options, logger *applog.Logger) *Client {
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(opts.SpreadsheetID),
		tabPrefix:     opts.TabPrefix,
		log:           applog.OrDefault(logger, applog.ComponentSheets).WithComponent(applog.ComponentSheets),
		headers:       map[string][]string{},
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials
// from inline JSON, a file, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	credentialsFile := strings.TrimSpace(opts.CredentialsFile)
	if opts.CredentialsJSON == "" && credentialsFile == "" {
		credentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		credentialsJSON = []byte(opts.CredentialsJSON)
	case credentialsFile != "":
		b, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func (c *Client) Name() string { return "sheets" }

func (c *Client) tabName(table string) string {
	return c.tabPrefix + table
}

// WriteRecord appends one row snapshot to the table's tab.
func (c *Client) WriteRecord(ctx context.Context, table string, rec map[string]any) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	tab := c.tabName(table)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureTab(ctx, tab); err != nil {
		return err
	}
	header, err := c.header(ctx, tab)
	if err != nil {
		return err
	}

	merged := mergeHeader(header, ports.Columns(rec))
	if len(merged) != len(header) {
		vr := &gsheet.ValueRange{Values: [][]any{toCells(merged)}}
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, tab+"!A1", vr).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("write header of %s: %w", tab, err)
		}
		c.headers[tab] = merged
	}

	row := make([]any, len(merged))
	for i, col := range merged {
		row[i] = ports.CellValue(rec[col])
	}
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, tab+"!A1", &gsheet.ValueRange{Values: [][]any{row}}).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", tab, err)
	}

	c.log.DebugContext(ctx, "Appended record",
		applog.FieldTable, table,
		applog.FieldID, rec["id"])
	return nil
}

// ListRecords reads the table's tab back, one map per id.
func (c *Client) ListRecords(ctx context.Context, table string) ([]map[string]any, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	tab := c.tabName(table)

	c.mu.Lock()
	err := c.ensureTab(ctx, tab)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, tab).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tab, err)
	}
	return parseRecords(resp.Values), nil
}

// ensureTab creates the tab when the spreadsheet lacks it. Callers hold c.mu.
func (c *Client) ensureTab(ctx context.Context, tab string) error {
	if c.tabs == nil {
		ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("read spreadsheet: %w", err)
		}
		c.tabs = map[string]bool{}
		for _, sh := range ss.Sheets {
			if sh.Properties != nil {
				c.tabs[sh.Properties.Title] = true
			}
		}
	}
	if c.tabs[tab] {
		return nil
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: tab}},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add tab %s: %w", tab, err)
	}
	c.tabs[tab] = true
	c.log.InfoContext(ctx, "Created sheet tab", "tab", tab)
	return nil
}

// header returns row 1 of the tab, cached after the first read. Callers hold c.mu.
func (c *Client) header(ctx context.Context, tab string) ([]string, error) {
	if h, ok := c.headers[tab]; ok {
		return h, nil
	}
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, tab+"!1:1").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", tab, err)
	}
	var h []string
	if len(resp.Values) > 0 {
		h = toStrings(resp.Values[0])
	}
	c.headers[tab] = h
	return h, nil
}
