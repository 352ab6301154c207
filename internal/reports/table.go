package reports

import (
	"strconv"
	"strings"

	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
)

// SequenceHeader is the first column of every report table
const SequenceHeader = "No"

// NotConfiguredMessage replaces the table of a project without report headers
const NotConfiguredMessage = "Report columns have not been configured for this project."

// Row is one rendered table row
type Row struct {
	ReportID string   `json:"report_id"`
	Cells    []string `json:"cells"`

	// search holds lower-cased raw and formatted values of every field of the record
	search []string
}

// Table is the rendered view of one fetched page
type Table struct {
	Configured bool     `json:"configured"`
	Message    string   `json:"message,omitempty"`
	Headers    []string `json:"headers"`
	Rows       []Row    `json:"rows"`

	PageNumber  int  `json:"page"`
	HasMore     bool `json:"has_more"`
	HasPrevious bool `json:"has_previous"`

	// Fetched is the number of records on the page before any search filter
	Fetched int `json:"fetched"`
}

// BuildTable renders page with the project's column layout. The first cell of each row is the
// running sequence number across pages; the rest are the project's headers resolved against
// the record and formatted.
func BuildTable(project *models.Project, page *Page, f *Formatter) *Table {
	if !project.Configured() {
		return &Table{
			Configured: false,
			Message:    NotConfiguredMessage,
			Headers:    []string{},
			Rows:       []Row{},
			PageNumber: page.PageNumber,
		}
	}

	headers := Headers(project)

	offset := (page.PageNumber - 1) * PageSize
	if offset < 0 {
		offset = 0
	}

	rows := make([]Row, 0, len(page.Records))
	for i, r := range page.Records {
		cells := RowCells(project, r, offset+i+1, f)
		rows = append(rows, Row{ReportID: r.ID, Cells: cells, search: searchTerms(r, f)})
	}

	return &Table{
		Configured:  true,
		Headers:     headers,
		Rows:        rows,
		PageNumber:  page.PageNumber,
		HasMore:     page.HasMore,
		HasPrevious: page.HasPrevious,
		Fetched:     len(page.Records),
	}
}

// Headers returns the column headers of the project's report table, sequence column first.
func Headers(project *models.Project) []string {
	headers := make([]string, 0, len(project.ReportHeaders)+1)
	headers = append(headers, SequenceHeader)
	return append(headers, project.ReportHeaders...)
}

// RowCells renders one record as table cells: seq, then each header resolved and formatted.
func RowCells(project *models.Project, r *models.Report, seq int, f *Formatter) []string {
	cells := make([]string, 0, len(project.ReportHeaders)+1)
	cells = append(cells, strconv.Itoa(seq))
	for _, h := range project.ReportHeaders {
		v, ok := r.Fields.Lookup(h)
		if !ok {
			v = models.NullValue()
		}
		cells = append(cells, f.Format(v, h))
	}
	return cells
}

func searchTerms(r *models.Report, f *Formatter) []string {
	terms := make([]string, 0, 2*len(r.Fields)+1)
	terms = append(terms, strings.ToLower(r.ID))
	for _, field := range r.Fields {
		terms = append(terms, strings.ToLower(field.Value.String()))
		terms = append(terms, strings.ToLower(f.Format(field.Value, field.Key)))
	}
	return terms
}

// Search keeps the rows whose record contains q (case-insensitive) in any field, including
// fields that are not displayed. Paging metadata keeps describing the fetched page.
func (t *Table) Search(q string) *Table {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" || !t.Configured {
		return t
	}

	out := *t
	out.Rows = make([]Row, 0, len(t.Rows))
	for _, row := range t.Rows {
		for _, term := range row.search {
			if strings.Contains(term, q) {
				out.Rows = append(out.Rows, row)
				break
			}
		}
	}
	return &out
}

// DetailField is one labelled value of the record detail view
type DetailField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Detail is the full view of a single report
type Detail struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	SalesCode string        `json:"sales_code"`
	Fields    []DetailField `json:"fields"`
}

// BuildDetail renders every column of r in stored order with humanized labels
func BuildDetail(r *models.Report, f *Formatter) *Detail {
	fields := make([]DetailField, 0, len(r.Fields))
	for _, field := range r.Fields {
		fields = append(fields, DetailField{
			Key:   field.Key,
			Label: Humanize(field.Key),
			Value: f.Format(field.Value, field.Key),
		})
	}
	return &Detail{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		SalesCode: r.SalesCode,
		Fields:    fields,
	}
}
