// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package voting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/danielhkuo/pk-arena/models"
)

// ErrMatchNotFound is returned when no PK match has the requested ID
var ErrMatchNotFound = errors.New("match not found")

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const teamColumns = `%[1]s.id, %[1]s.name, %[1]s.logo, %[1]s.description, %[1]s.is_public,
	%[1]s.max_members, %[1]s.created_at, %[1]s.updated_at`

const projectColumns = `%[1]s.id, %[1]s.team_id, %[1]s.title, %[1]s.description,
	%[1]s.demo_video_url, %[1]s.experience_url, %[1]s.github_url, %[1]s.tech_stack,
	%[1]s.category, %[1]s.status, %[1]s.is_published, %[1]s.version,
	%[1]s.submitted_at, %[1]s.published_at, %[1]s.created_at, %[1]s.updated_at`

var matchQuery = `
	SELECT m.id, m.competition_id, m.round, m.status, m.start_time, m.end_time,
		m.total_votes, m.team_a_votes, m.team_b_votes, m.judge_limit, m.created_at, m.updated_at,
		` + fmt.Sprintf(teamColumns, "ta") + `,
		` + fmt.Sprintf(teamColumns, "tb") + `,
		` + fmt.Sprintf(projectColumns, "pa") + `,
		` + fmt.Sprintf(projectColumns, "pb") + `
	FROM pk_match m
	JOIN team ta ON ta.id = m.team_a_id
	JOIN team tb ON tb.id = m.team_b_id
	JOIN project pa ON pa.id = m.project_a_id
	JOIN project pb ON pb.id = m.project_b_id`

type scanner interface {
	Scan(dest ...any) error
}

func teamDest(t *models.Team) []any {
	return []any{&t.ID, &t.Name, &t.Logo, &t.Description, &t.IsPublic,
		&t.MaxMembers, &t.CreatedAt, &t.UpdatedAt}
}

type projectRow struct {
	p           models.Project
	techStack   string
	submittedAt sql.NullTime
	publishedAt sql.NullTime
}

func (r *projectRow) dest() []any {
	p := &r.p
	return []any{&p.ID, &p.TeamID, &p.Title, &p.Description,
		&p.DemoVideoURL, &p.ExperienceURL, &p.GithubURL, &r.techStack,
		&p.Category, &p.Status, &p.IsPublished, &p.Version,
		&r.submittedAt, &r.publishedAt, &p.CreatedAt, &p.UpdatedAt}
}

func (r *projectRow) project() models.Project {
	p := r.p
	p.TechStack = models.DecodeList(r.techStack)
	if r.submittedAt.Valid {
		t := r.submittedAt.Time
		p.SubmittedAt = &t
	}
	if r.publishedAt.Valid {
		t := r.publishedAt.Time
		p.PublishedAt = &t
	}
	return p
}

func scanMatch(row scanner) (models.PKMatch, error) {
	var (
		m       models.PKMatch
		round   int
		endTime sql.NullTime
		pa, pb  projectRow
	)

	dest := []any{&m.ID, &m.CompetitionID, &round, &m.Status, &m.StartTime, &endTime,
		&m.TotalVotes, &m.TeamAVotes, &m.TeamBVotes, &m.JudgeLimit, &m.CreatedAt, &m.UpdatedAt}
	dest = append(dest, teamDest(&m.TeamA)...)
	dest = append(dest, teamDest(&m.TeamB)...)
	dest = append(dest, pa.dest()...)
	dest = append(dest, pb.dest()...)

	if err := row.Scan(dest...); err != nil {
		return models.PKMatch{}, err
	}

	m.RoundID = strconv.Itoa(round)
	if endTime.Valid {
		t := endTime.Time
		m.EndTime = &t
	}
	m.TeamA.Members = []models.TeamMember{}
	m.TeamB.Members = []models.TeamMember{}
	m.ProjectA = pa.project()
	m.ProjectB = pb.project()
	return m, nil
}

// LoadMatch returns a PK match with both teams and projects filled in
func LoadMatch(ctx context.Context, db *sql.DB, id string) (models.PKMatch, error) {
	return loadMatch(ctx, db, id)
}

func loadMatch(ctx context.Context, q querier, id string) (models.PKMatch, error) {
	m, err := scanMatch(q.QueryRowContext(ctx, matchQuery+` WHERE m.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.PKMatch{}, ErrMatchNotFound
	}
	if err != nil {
		return models.PKMatch{}, fmt.Errorf("failed to load match %s: %w", id, err)
	}
	return m, nil
}

// ListMatches returns the matches of one competition round in creation order
func ListMatches(ctx context.Context, db *sql.DB, competitionID string, round int) ([]models.PKMatch, error) {
	rows, err := db.QueryContext(ctx, matchQuery+`
		WHERE m.competition_id = $1 AND m.round = $2
		ORDER BY m.created_at, m.id`, competitionID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	matches := []models.PKMatch{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
