package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/tetraminz/slotner/internal/validate"
)

const topViolatedRecords = 10

// ErrNoRuns is returned when a report is requested from an empty database.
var ErrNoRuns = errors.New("no runs in database")

// TypeCount is one row of a grouped count.
type TypeCount struct {
	Name  string
	Count int
}

// RecordViolations summarizes the violations of one record.
type RecordViolations struct {
	ConvID     string
	Seq        int
	Violations int
	Messages   []string
}

// Report aggregates one run.
type Report struct {
	Run Run

	TotalRecords  int
	TotalEntities int
	CleanRecords  int
	FailedRecords int
	CleanPercent  float64

	EntityTypes       []TypeCount
	Groups            []TypeCount
	ViolationsByRule  []TypeCount
	TopFailedRecords  []RecordViolations
	UngroundedRecords int
}

// BuildReport aggregates the run with the given id, or the newest run when
// runID is empty.
func (s *Store) BuildReport(ctx context.Context, runID string) (Report, error) {
	run, err := s.findRun(ctx, runID)
	if err != nil {
		return Report{}, err
	}
	report := Report{Run: run}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(entity_count), 0),
			COALESCE(SUM(CASE WHEN violation_count = 0 THEN 1 ELSE 0 END), 0)
		FROM records
		WHERE run_id = ?`, run.ID,
	).Scan(&report.TotalRecords, &report.TotalEntities, &report.CleanRecords)
	if err != nil {
		return Report{}, fmt.Errorf("query record totals: %w", err)
	}
	report.FailedRecords = report.TotalRecords - report.CleanRecords
	if report.TotalRecords > 0 {
		report.CleanPercent = 100.0 * float64(report.CleanRecords) / float64(report.TotalRecords)
	}

	if report.EntityTypes, err = s.countBy(ctx, `
		SELECT entity_type, COUNT(*) AS n FROM entities WHERE run_id = ?
		GROUP BY entity_type ORDER BY n DESC, entity_type ASC`, run.ID); err != nil {
		return Report{}, err
	}
	if report.Groups, err = s.countBy(ctx, `
		SELECT grp, COUNT(*) AS n FROM records WHERE run_id = ?
		GROUP BY grp ORDER BY n DESC, grp ASC`, run.ID); err != nil {
		return Report{}, err
	}
	if report.ViolationsByRule, err = s.countBy(ctx, `
		SELECT rule, COUNT(*) AS n FROM violations WHERE run_id = ?
		GROUP BY rule ORDER BY n DESC, rule ASC`, run.ID); err != nil {
		return Report{}, err
	}
	for _, rc := range report.ViolationsByRule {
		if rc.Name == string(validate.RuleGrounded) {
			if err := s.db.QueryRowContext(ctx, `
				SELECT COUNT(DISTINCT record_id) FROM violations WHERE run_id = ? AND rule = ?`, run.ID, rc.Name,
			).Scan(&report.UngroundedRecords); err != nil {
				return Report{}, fmt.Errorf("query ungrounded records: %w", err)
			}
		}
	}

	if report.TopFailedRecords, err = s.topFailed(ctx, run.ID); err != nil {
		return Report{}, err
	}
	return report, nil
}

func (s *Store) findRun(ctx context.Context, runID string) (Run, error) {
	query := `SELECT run_id, command, source_path, started_utc, record_count FROM runs WHERE run_id = ?`
	args := []any{runID}
	if strings.TrimSpace(runID) == "" {
		query = `SELECT run_id, command, source_path, started_utc, record_count FROM runs ORDER BY started_utc DESC, rowid DESC LIMIT 1`
		args = nil
	}

	var r Run
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&r.ID, &r.Command, &r.SourcePath, &r.StartedUTC, &r.RecordCount)
	if errors.Is(err, sql.ErrNoRows) {
		if runID == "" {
			return Run{}, ErrNoRuns
		}
		return Run{}, fmt.Errorf("run %q not found", runID)
	}
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	return r, nil
}

func (s *Store) countBy(ctx context.Context, query, runID string) ([]TypeCount, error) {
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	var out []TypeCount
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Name, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate count rows: %w", err)
	}
	return out, nil
}

func (s *Store) topFailed(ctx context.Context, runID string) ([]RecordViolations, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.conv_id, r.seq, r.violation_count, v.message
		FROM records r
		JOIN violations v ON v.record_id = r.id
		WHERE r.run_id = ?
		ORDER BY r.violation_count DESC, r.seq ASC, v.rowid ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failed records: %w", err)
	}
	defer rows.Close()

	var out []RecordViolations
	lastID := int64(-1)
	for rows.Next() {
		var id int64
		var item RecordViolations
		var message string
		if err := rows.Scan(&id, &item.ConvID, &item.Seq, &item.Violations, &message); err != nil {
			return nil, fmt.Errorf("scan failed record row: %w", err)
		}
		if id != lastID {
			if len(out) == topViolatedRecords {
				break
			}
			out = append(out, item)
			lastID = id
		}
		cur := &out[len(out)-1]
		cur.Messages = append(cur.Messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed record rows: %w", err)
	}
	return out, nil
}

// FormatReport renders r as key=value lines.
func FormatReport(r Report) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("run_id=%s\n", r.Run.ID))
	b.WriteString(fmt.Sprintf("source=%s\n", r.Run.SourcePath))
	b.WriteString(fmt.Sprintf("total_records=%s\n", humanize.Comma(int64(r.TotalRecords))))
	b.WriteString(fmt.Sprintf("total_entities=%s\n", humanize.Comma(int64(r.TotalEntities))))
	b.WriteString(fmt.Sprintf("clean_records=%s (%.2f%%)\n", humanize.Comma(int64(r.CleanRecords)), r.CleanPercent))
	b.WriteString(fmt.Sprintf("failed_records=%s\n", humanize.Comma(int64(r.FailedRecords))))
	b.WriteString(fmt.Sprintf("ungrounded_records=%s\n", humanize.Comma(int64(r.UngroundedRecords))))
	for _, rc := range r.ViolationsByRule {
		b.WriteString(fmt.Sprintf("violations[%s]=%s\n", rc.Name, humanize.Comma(int64(rc.Count))))
	}
	return b.String()
}

// BuildMarkdown renders r as a markdown document.
func BuildMarkdown(r Report) string {
	var b strings.Builder
	b.WriteString("# Dataset Report\n\n")
	b.WriteString("## Run\n")
	b.WriteString(fmt.Sprintf("- run_id: `%s`\n", r.Run.ID))
	b.WriteString(fmt.Sprintf("- command: `%s`\n", r.Run.Command))
	b.WriteString(fmt.Sprintf("- source: `%s`\n", r.Run.SourcePath))
	b.WriteString(fmt.Sprintf("- started: `%s`\n\n", r.Run.StartedUTC))

	b.WriteString("## Totals\n")
	b.WriteString(fmt.Sprintf("- records: `%s`\n", humanize.Comma(int64(r.TotalRecords))))
	b.WriteString(fmt.Sprintf("- entities: `%s`\n", humanize.Comma(int64(r.TotalEntities))))
	b.WriteString(fmt.Sprintf("- clean: `%s` (%.2f%%)\n", humanize.Comma(int64(r.CleanRecords)), r.CleanPercent))
	b.WriteString(fmt.Sprintf("- failed: `%s`\n\n", humanize.Comma(int64(r.FailedRecords))))

	writeCountTable(&b, "Entity Types", "type", r.EntityTypes)
	writeCountTable(&b, "Groups", "group", r.Groups)
	writeCountTable(&b, "Violations by Rule", "rule", r.ViolationsByRule)

	b.WriteString("## Top Failed Records\n")
	if len(r.TopFailedRecords) == 0 {
		b.WriteString("- none\n")
		return b.String()
	}
	b.WriteString("| conv_id | seq | violations | messages |\n")
	b.WriteString("| --- | ---: | ---: | --- |\n")
	for _, item := range r.TopFailedRecords {
		b.WriteString(fmt.Sprintf("| `%s` | `%d` | `%d` | %s |\n",
			item.ConvID,
			item.Seq,
			item.Violations,
			strings.ReplaceAll(strings.Join(item.Messages, "; "), "|", "/"),
		))
	}
	return b.String()
}

func writeCountTable(b *strings.Builder, title, column string, rows []TypeCount) {
	b.WriteString("## " + title + "\n")
	if len(rows) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	b.WriteString(fmt.Sprintf("| %s | count |\n", column))
	b.WriteString("| --- | ---: |\n")
	for _, row := range rows {
		name := row.Name
		if name == "" {
			name = "(none)"
		}
		b.WriteString(fmt.Sprintf("| `%s` | `%s` |\n", name, humanize.Comma(int64(row.Count))))
	}
	b.WriteString("\n")
}
