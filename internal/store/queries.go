package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/blackwell-systems/idreset/internal/backup"
	"github.com/blackwell-systems/idreset/internal/campaign"
)

// Campaign operations

// RecordCampaign stores a finished campaign and every result in it, in one
// transaction. It returns the new campaign ID.
func (s *Store) RecordCampaign(report *campaign.Report) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	families := make([]string, 0, len(report.Families))
	for _, f := range report.Families {
		families = append(families, f.Family)
	}
	modes := make([]string, 0, len(report.Modes))
	for _, m := range report.Modes {
		modes = append(modes, m.String())
	}

	res, err := tx.Exec(`
		INSERT INTO campaigns
		(started_at, finished_at, families, modes, found, succeeded, failed, skipped, success, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.StartedAt.UTC().Format(time.RFC3339),
		report.FinishedAt.UTC().Format(time.RFC3339),
		strings.Join(families, ","),
		strings.Join(modes, ","),
		report.Found,
		report.Succeeded,
		report.Failed,
		report.Skipped,
		report.Success,
		report.Cancelled,
	)
	if err != nil {
		return 0, wrap(err, "failed to insert campaign")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get campaign id: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO results
		(campaign_id, family, label, path, kind, scope, mode, outcome, changes, records, protected, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, wrap(err, "failed to prepare result insert")
	}
	defer stmt.Close()

	for _, fr := range report.Families {
		for _, r := range fr.Results {
			detail := ""
			if r.Err != nil {
				detail = r.Err.Error()
			} else if r.Reason != "" {
				detail = r.Reason
			}
			_, err := stmt.Exec(
				id,
				fr.Family,
				r.Artifact.Label,
				r.Artifact.Path,
				r.Artifact.Kind.String(),
				r.Artifact.Scope.String(),
				r.Mode.String(),
				r.Outcome.String(),
				len(r.Changes),
				r.RecordsAffected,
				r.Protected,
				detail,
			)
			if err != nil {
				return 0, fmt.Errorf("failed to insert result for %s: %w", r.Artifact.Path, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit campaign: %w", err)
	}
	return id, nil
}

// ListCampaigns returns recorded campaigns, newest first. limit <= 0
// returns all of them.
func (s *Store) ListCampaigns(limit int) ([]*Campaign, error) {
	query := `
		SELECT id, started_at, finished_at, families, modes, found, succeeded, failed, skipped, success, cancelled
		FROM campaigns
		ORDER BY id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrap(err, "failed to list campaigns")
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		var c Campaign
		var startedAt, finishedAt, families, modes string

		err := rows.Scan(
			&c.ID,
			&startedAt,
			&finishedAt,
			&families,
			&modes,
			&c.Found,
			&c.Succeeded,
			&c.Failed,
			&c.Skipped,
			&c.Success,
			&c.Cancelled,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}

		if c.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at for campaign %d: %w", c.ID, err)
		}
		if c.FinishedAt, err = time.Parse(time.RFC3339, finishedAt); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at for campaign %d: %w", c.ID, err)
		}
		c.Families = splitList(families)
		c.Modes = splitList(modes)

		campaigns = append(campaigns, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaigns: %w", err)
	}

	return campaigns, nil
}

// GetResults returns the stored results of one campaign in processing order.
func (s *Store) GetResults(campaignID int64) ([]*ResultRow, error) {
	query := `
		SELECT campaign_id, family, label, path, kind, scope, mode, outcome, changes, records, protected, detail
		FROM results
		WHERE campaign_id = ?
		ORDER BY id
	`

	rows, err := s.db.Query(query, campaignID)
	if err != nil {
		return nil, wrap(err, "failed to get results for campaign %d", campaignID)
	}
	defer rows.Close()

	var results []*ResultRow
	for rows.Next() {
		var r ResultRow
		err := rows.Scan(
			&r.CampaignID,
			&r.Family,
			&r.Label,
			&r.Path,
			&r.Kind,
			&r.Scope,
			&r.Mode,
			&r.Outcome,
			&r.Changes,
			&r.Records,
			&r.Protected,
			&r.Detail,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

// Backup catalog operations

// RecordBackup remembers where a backup came from.
func (s *Store) RecordBackup(rec backup.Record) error {
	query := `
		INSERT OR REPLACE INTO backups (path, source, label, kind, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		rec.Path,
		rec.Source,
		rec.Label,
		string(rec.Kind),
		rec.Size,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return wrap(err, "failed to record backup %s", rec.Path)
	}
	return nil
}

// SourceFor returns the original path of a backup, or "" when the backup
// is not in the catalog.
func (s *Store) SourceFor(backupPath string) (string, error) {
	var source string
	err := s.db.QueryRow("SELECT source FROM backups WHERE path = ?", backupPath).Scan(&source)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrap(err, "failed to look up backup %s", backupPath)
	}
	return source, nil
}

// ForgetBackups drops catalog entries whose files no longer exist, as
// reported by exists. It returns the number of entries removed.
func (s *Store) ForgetBackups(exists func(path string) bool) (int, error) {
	rows, err := s.db.Query("SELECT path FROM backups")
	if err != nil {
		return 0, wrap(err, "failed to list backups")
	}
	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan backup row: %w", err)
		}
		if !exists(path) {
			stale = append(stale, path)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating backups: %w", err)
	}

	for _, path := range stale {
		if _, err := s.db.Exec("DELETE FROM backups WHERE path = ?", path); err != nil {
			return 0, fmt.Errorf("failed to forget backup %s: %w", path, err)
		}
	}
	return len(stale), nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
