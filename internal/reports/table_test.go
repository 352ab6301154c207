package reports

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
)

func alphaProject() *models.Project {
	return &models.Project{
		ID:            "proj-alpha",
		Name:          "Project Alpha",
		Status:        models.ProjectStatusActive,
		ReportHeaders: []string{"ID UNIK", "Merchant Name"},
	}
}

func TestBuildTable_Alpha(t *testing.T) {
	page := &Page{
		PageNumber: 1,
		Records: []*models.Report{{
			ID:        "r1",
			ProjectID: "project_alpha",
			SalesCode: "S01",
			Fields: models.Fields{
				{Key: "ID UNIK", Value: models.NumberValue(42)},
				{Key: "Merchant Name", Value: models.StringValue("Acme")},
			},
		}},
	}

	table := BuildTable(alphaProject(), page, NewFormatter(LocaleEnglish, nil))
	require.True(t, table.Configured)
	assert.Equal(t, []string{"No", "ID UNIK", "Merchant Name"}, table.Headers)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, []string{"1", "42", "Acme"}, table.Rows[0].Cells)
	assert.Equal(t, "r1", table.Rows[0].ReportID)
	assert.Equal(t, 1, table.Fetched)
}

func TestBuildTable_SequenceContinuesAcrossPages(t *testing.T) {
	records := seed("project_alpha", 3, "S01")
	page := &Page{PageNumber: 2, Records: records, HasPrevious: true}
	project := alphaProject()
	project.ReportHeaders = []string{"Seq"}

	table := BuildTable(project, page, NewFormatter(LocaleEnglish, nil))
	assert.Equal(t, "51", table.Rows[0].Cells[0])
	assert.Equal(t, "53", table.Rows[2].Cells[0])
	assert.True(t, table.HasPrevious)
	assert.Equal(t, 2, table.PageNumber)
}

func TestBuildTable_ColumnResolution(t *testing.T) {
	project := alphaProject()
	project.ReportHeaders = []string{"Merchant Name", "Tanggal Kunjungan", "Catatan"}
	page := &Page{PageNumber: 1, Records: []*models.Report{{
		ID: "r1",
		Fields: models.Fields{
			{Key: "Merchant_Name", Value: models.StringValue("Toko Maju")},
			{Key: "Tanggal Kunjungan", Value: models.TimestampValue(time.Date(2024, 1, 5, 3, 0, 0, 0, time.UTC))},
		},
	}}}

	table := BuildTable(project, page, NewFormatter(LocaleIndonesian, nil))
	assert.Equal(t, []string{"1", "Toko Maju", "05-01-2024", NullToken}, table.Rows[0].Cells)
}

func TestBuildTable_NotConfigured(t *testing.T) {
	project := alphaProject()
	project.ReportHeaders = nil
	page := &Page{PageNumber: 1, Records: seed("project_alpha", 5, "S01")}

	table := BuildTable(project, page, NewFormatter(LocaleEnglish, nil))
	assert.False(t, table.Configured)
	assert.Equal(t, NotConfiguredMessage, table.Message)
	assert.Empty(t, table.Headers)
	assert.Empty(t, table.Rows)
}

func TestBuildTable_EmptyPage(t *testing.T) {
	table := BuildTable(alphaProject(), emptyPage(), NewFormatter(LocaleEnglish, nil))
	assert.True(t, table.Configured)
	assert.Empty(t, table.Rows)
	assert.NotNil(t, table.Rows)
	assert.Equal(t, 0, table.Fetched)
}

func TestTable_Search(t *testing.T) {
	records := seed("project_alpha", PageSize, "S01")
	// the owner name is not a displayed column
	for _, i := range []int{3, 17, 40} {
		records[i].Fields.Set("Owner", models.StringValue("Budi Santoso"))
	}
	project := alphaProject()
	project.ReportHeaders = []string{"Seq"}
	page := &Page{PageNumber: 1, Records: records, HasMore: true}

	table := BuildTable(project, page, NewFormatter(LocaleEnglish, nil))
	found := table.Search("budi")

	require.Len(t, found.Rows, 3)
	assert.Equal(t, "r0004", found.Rows[0].ReportID)
	assert.Equal(t, "r0018", found.Rows[1].ReportID)
	assert.Equal(t, "r0041", found.Rows[2].ReportID)
	assert.Equal(t, PageSize, found.Fetched)
	assert.True(t, found.HasMore)
	assert.Equal(t, 1, found.PageNumber)
	assert.Len(t, table.Rows, PageSize, "search must not modify the source table")

	assert.Same(t, table, table.Search("  "))
	assert.Empty(t, table.Search("nobody").Rows)
}

func TestTable_SearchMatchesFormattedValues(t *testing.T) {
	project := alphaProject()
	project.ReportHeaders = []string{"Amount"}
	page := &Page{PageNumber: 1, Records: []*models.Report{{
		ID:     "r1",
		Fields: models.Fields{{Key: "Amount", Value: models.NumberValue(1500000)}},
	}}}

	table := BuildTable(project, page, NewFormatter(LocaleEnglish, nil))
	assert.Len(t, table.Search("1,500,000").Rows, 1)
	assert.Len(t, table.Search("1500000").Rows, 1)
	assert.Len(t, table.Search("R1").Rows, 1)
}

func TestBuildDetail(t *testing.T) {
	r := &models.Report{
		ID:        "r9",
		ProjectID: "project_alpha",
		SalesCode: "S01",
		Fields: models.Fields{
			{Key: "Merchant_Name", Value: models.StringValue("Acme")},
			{Key: "ID UNIK", Value: models.NumberValue(42)},
			{Key: "Photo", Value: models.NullValue()},
		},
	}

	d := BuildDetail(r, NewFormatter(LocaleEnglish, nil))
	assert.Equal(t, "r9", d.ID)
	assert.Equal(t, "S01", d.SalesCode)
	require.Len(t, d.Fields, 3)
	assert.Equal(t, DetailField{Key: "Merchant_Name", Label: "Merchant Name", Value: "Acme"}, d.Fields[0])
	assert.Equal(t, "42", d.Fields[1].Value)
	assert.Equal(t, NullToken, d.Fields[2].Value)
}
