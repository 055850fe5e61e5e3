package crm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type StoreConfig struct {
	Driver      string `envconfig:"DRIVER" split_words:"true" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" split_words:"true" default:"./apex_crm.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" split_words:"true"`
}

type leadRow struct {
	bun.BaseModel `bun:"table:leads,alias:l"`

	ID                 int64     `bun:"id,pk,autoincrement"`
	Name               string    `bun:"name,notnull"`
	Email              string    `bun:"email,notnull"`
	Company            string    `bun:"company"`
	Interest           string    `bun:"interest"`
	LeadScore          float64   `bun:"lead_score"`
	Status             string    `bun:"status"`
	QualificationNotes string    `bun:"qualification_notes"`
	MeetingID          string    `bun:"meeting_id"`
	MeetingTime        string    `bun:"meeting_time"`
	MeetingLink        string    `bun:"meeting_link"`
	Source             string    `bun:"source"`
	CreatedAt          time.Time `bun:"created_at,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,notnull"`
}

// Store persists leads through bun. The SQLite and Postgres backends are
// interchangeable; selection happens at Open time.
type Store struct {
	db *bun.DB

	initOnce sync.Once
	initErr  error

	now func() time.Time
}

// Open connects the configured backend. Schema creation is deferred to
// first use and is idempotent.
func Open(cfg StoreConfig) (*Store, error) {
	var sqldb *sql.DB
	var db *bun.DB

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, fmt.Errorf("%w: postgres dsn is required", contractx.ErrValidation)
		}
		sqldb = sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		db = bun.NewDB(sqldb, pgdialect.New())
	case DriverSQLite, "":
		path := strings.TrimSpace(cfg.SQLitePath)
		if path == "" {
			path = "./apex_crm.db"
		}
		var err error
		sqldb, err = sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?cache=shared", path))
		if err != nil {
			return nil, fmt.Errorf("open sqlite db: %w", err)
		}
		// SQLite writes are serialized through a single connection.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("%w: unknown crm driver %q", contractx.ErrValidation, cfg.Driver)
	}

	return NewStore(db), nil
}

// NewStore wraps an existing bun handle (used by tests).
func NewStore(db *bun.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	s.initOnce.Do(func() {
		if _, err := s.db.NewCreateTable().
			Model((*leadRow)(nil)).
			IfNotExists().
			Exec(ctx); err != nil {
			s.initErr = fmt.Errorf("create leads table: %w", err)
			return
		}

		indexes := map[string][]string{
			"idx_leads_email":      {"email"},
			"idx_leads_status":     {"status"},
			"idx_leads_score":      {"lead_score"},
			"idx_leads_created_at": {"created_at"},
		}
		for name, cols := range indexes {
			q := s.db.NewCreateIndex().
				Model((*leadRow)(nil)).
				IfNotExists().
				Index(name)
			for _, col := range cols {
				q = q.Column(col)
			}
			if _, err := q.Exec(ctx); err != nil {
				s.initErr = fmt.Errorf("create index %s: %w", name, err)
				return
			}
		}
	})
	return s.initErr
}

func (s *Store) Create(ctx context.Context, lead contractx.Lead) (contractx.Lead, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return contractx.Lead{}, err
	}
	if strings.TrimSpace(lead.Name) == "" || strings.TrimSpace(lead.Email) == "" {
		return contractx.Lead{}, fmt.Errorf("%w: lead name and email are required", contractx.ErrValidation)
	}

	if lead.Status == "" {
		lead.Status = contractx.StatusForScore(lead.LeadScore)
	}
	if lead.Source == "" {
		lead.Source = "AI Assistant"
	}

	now := s.now().UTC()
	row := toRow(lead)
	row.ID = 0
	row.CreatedAt = now
	row.UpdatedAt = now

	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return contractx.Lead{}, fmt.Errorf("insert lead: %w", err)
	}

	log.Info().
		Int64("lead_id", row.ID).
		Str("email", row.Email).
		Float64("score", row.LeadScore).
		Str("status", row.Status).
		Msg("lead created")

	return fromRow(row), nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (contractx.Lead, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return contractx.Lead{}, err
	}
	row := new(leadRow)
	err := s.db.NewSelect().Model(row).Where("l.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return contractx.Lead{}, fmt.Errorf("%w: lead id=%d", contractx.ErrNotFound, id)
	}
	if err != nil {
		return contractx.Lead{}, fmt.Errorf("select lead: %w", err)
	}
	return fromRow(row), nil
}

// GetByEmail returns the most recent lead for an address.
func (s *Store) GetByEmail(ctx context.Context, email string) (contractx.Lead, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return contractx.Lead{}, err
	}
	row := new(leadRow)
	err := s.db.NewSelect().
		Model(row).
		Where("l.email = ?", email).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return contractx.Lead{}, fmt.Errorf("%w: lead email=%s", contractx.ErrNotFound, email)
	}
	if err != nil {
		return contractx.Lead{}, fmt.Errorf("select lead by email: %w", err)
	}
	return fromRow(row), nil
}

func (s *Store) List(ctx context.Context, status string, limit, offset int) ([]contractx.Lead, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var rows []*leadRow
	q := s.db.NewSelect().
		Model(&rows).
		Order("lead_score DESC").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset)
	if strings.TrimSpace(status) != "" {
		q = q.Where("l.status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}

	leads := make([]contractx.Lead, 0, len(rows))
	for _, row := range rows {
		leads = append(leads, fromRow(row))
	}
	return leads, nil
}

// Update applies a partial patch. When the patch changes the score without
// an explicit status, the status is recomputed from the new score.
func (s *Store) Update(ctx context.Context, id int64, patch contractx.LeadPatch) (contractx.Lead, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return contractx.Lead{}, err
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return contractx.Lead{}, err
	}

	applyPatch(&current, patch)
	if patch.LeadScore != nil && patch.Status == nil {
		current.Status = contractx.StatusForScore(current.LeadScore)
	}
	current.UpdatedAt = s.now().UTC()

	row := toRow(current)
	res, err := s.db.NewUpdate().Model(row).WherePK().Exec(ctx)
	if err != nil {
		return contractx.Lead{}, fmt.Errorf("update lead: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return contractx.Lead{}, fmt.Errorf("%w: lead id=%d", contractx.ErrNotFound, id)
	}
	return current, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := s.db.NewDelete().Model((*leadRow)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: lead id=%d", contractx.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (contractx.LeadStats, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return contractx.LeadStats{}, err
	}

	stats := contractx.LeadStats{ByStatus: make(map[string]int)}

	total, err := s.db.NewSelect().Model((*leadRow)(nil)).Count(ctx)
	if err != nil {
		return contractx.LeadStats{}, fmt.Errorf("count leads: %w", err)
	}
	stats.Total = total

	var grouped []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	if err := s.db.NewSelect().
		Model((*leadRow)(nil)).
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &grouped); err != nil {
		return contractx.LeadStats{}, fmt.Errorf("group leads by status: %w", err)
	}
	for _, g := range grouped {
		stats.ByStatus[g.Status] = g.Count
	}

	var avg sql.NullFloat64
	if err := s.db.NewSelect().
		Model((*leadRow)(nil)).
		ColumnExpr("AVG(lead_score)").
		Scan(ctx, &avg); err != nil {
		return contractx.LeadStats{}, fmt.Errorf("average lead score: %w", err)
	}
	if avg.Valid {
		stats.AverageScore = avg.Float64
	}

	cutoff := s.now().UTC().AddDate(0, 0, -7)
	recent, err := s.db.NewSelect().
		Model((*leadRow)(nil)).
		Where("created_at >= ?", cutoff).
		Count(ctx)
	if err != nil {
		return contractx.LeadStats{}, fmt.Errorf("count recent leads: %w", err)
	}
	stats.Recent7Days = recent

	return stats, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func toRow(lead contractx.Lead) *leadRow {
	return &leadRow{
		ID:                 lead.ID,
		Name:               lead.Name,
		Email:              lead.Email,
		Company:            lead.Company,
		Interest:           lead.Interest,
		LeadScore:          lead.LeadScore,
		Status:             lead.Status,
		QualificationNotes: lead.QualificationNotes,
		MeetingID:          lead.MeetingID,
		MeetingTime:        lead.MeetingTime,
		MeetingLink:        lead.MeetingLink,
		Source:             lead.Source,
		CreatedAt:          lead.CreatedAt,
		UpdatedAt:          lead.UpdatedAt,
	}
}

func fromRow(row *leadRow) contractx.Lead {
	return contractx.Lead{
		ID:                 row.ID,
		Name:               row.Name,
		Email:              row.Email,
		Company:            row.Company,
		Interest:           row.Interest,
		LeadScore:          row.LeadScore,
		Status:             row.Status,
		QualificationNotes: row.QualificationNotes,
		MeetingID:          row.MeetingID,
		MeetingTime:        row.MeetingTime,
		MeetingLink:        row.MeetingLink,
		Source:             row.Source,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func applyPatch(lead *contractx.Lead, patch contractx.LeadPatch) {
	if patch.Name != nil {
		lead.Name = *patch.Name
	}
	if patch.Email != nil {
		lead.Email = *patch.Email
	}
	if patch.Company != nil {
		lead.Company = *patch.Company
	}
	if patch.Interest != nil {
		lead.Interest = *patch.Interest
	}
	if patch.LeadScore != nil {
		lead.LeadScore = *patch.LeadScore
	}
	if patch.Status != nil {
		lead.Status = *patch.Status
	}
	if patch.QualificationNotes != nil {
		lead.QualificationNotes = *patch.QualificationNotes
	}
	if patch.MeetingID != nil {
		lead.MeetingID = *patch.MeetingID
	}
	if patch.MeetingTime != nil {
		lead.MeetingTime = *patch.MeetingTime
	}
	if patch.MeetingLink != nil {
		lead.MeetingLink = *patch.MeetingLink
	}
	if patch.Source != nil {
		lead.Source = *patch.Source
	}
}

var _ contractx.LeadStore = (*Store)(nil)
