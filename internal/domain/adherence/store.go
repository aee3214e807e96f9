package adherence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medcycle/go-dose-engine/internal/domain/medication"
)

// Store maintains the adherence_daily read model.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore creates a new adherence store
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Rebuild recomputes the report for one medication day from its dose
// logs and upserts it. Rebuilding is idempotent, so replayed dose
// events converge on the same row.
func (s *Store) Rebuild(ctx context.Context, medicationID uuid.UUID, day time.Time) (*DailyReport, error) {
	day = medication.DateOf(day)
	logs, patientID, err := s.logsForDay(ctx, medicationID, day)
	if err != nil {
		return nil, err
	}

	report := BuildDailyReport(medicationID, patientID, day, logs)
	report.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO adherence_daily
		(medication_id, patient_id, day, expected_total, taken_total, variance_total,
		 taken_count, skipped_count, advisory_count, adherence_pct, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (medication_id, day) DO UPDATE SET
			expected_total = EXCLUDED.expected_total,
			taken_total    = EXCLUDED.taken_total,
			variance_total = EXCLUDED.variance_total,
			taken_count    = EXCLUDED.taken_count,
			skipped_count  = EXCLUDED.skipped_count,
			advisory_count = EXCLUDED.advisory_count,
			adherence_pct  = EXCLUDED.adherence_pct,
			updated_at     = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query,
		report.MedicationID, report.PatientID, report.Day,
		report.ExpectedTotal, report.TakenTotal, report.VarianceTotal,
		report.TakenCount, report.SkippedCount, report.AdvisoryCount,
		report.AdherencePct, report.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert adherence report: %w", err)
	}

	s.logger.Debug("adherence report rebuilt",
		zap.String("medication_id", medicationID.String()),
		zap.String("day", day.Format("2006-01-02")),
		zap.Float64("adherence_pct", report.AdherencePct))
	return &report, nil
}

// Range retrieves reports for a medication between two days inclusive.
func (s *Store) Range(ctx context.Context, medicationID uuid.UUID, from, to time.Time) ([]DailyReport, error) {
	query := `
		SELECT medication_id, patient_id, day, expected_total, taken_total, variance_total,
		       taken_count, skipped_count, advisory_count, adherence_pct, updated_at
		FROM adherence_daily
		WHERE medication_id = $1 AND day >= $2 AND day <= $3
		ORDER BY day ASC
	`
	rows, err := s.pool.Query(ctx, query, medicationID, medication.DateOf(from), medication.DateOf(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []DailyReport
	for rows.Next() {
		r := DailyReport{}
		err := rows.Scan(
			&r.MedicationID, &r.PatientID, &r.Day,
			&r.ExpectedTotal, &r.TakenTotal, &r.VarianceTotal,
			&r.TakenCount, &r.SkippedCount, &r.AdvisoryCount,
			&r.AdherencePct, &r.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// logsForDay loads the logs whose effective time falls on day. The
// effective time is the actual intake when recorded, otherwise the
// scheduled time.
func (s *Store) logsForDay(ctx context.Context, medicationID uuid.UUID, day time.Time) ([]medication.DoseLog, uuid.UUID, error) {
	query := `
		SELECT id, medication_id, patient_id, scheduled_time, actual_time, status,
		       expected_dose, actual_dose, unit, advisory, advisory_reasons, notes, created_at
		FROM dose_logs
		WHERE medication_id = $1
		  AND COALESCE(actual_time, scheduled_time) >= $2
		  AND COALESCE(actual_time, scheduled_time) < $3
		ORDER BY scheduled_time ASC
	`
	rows, err := s.pool.Query(ctx, query, medicationID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, uuid.Nil, err
	}
	defer rows.Close()

	var logs []medication.DoseLog
	patientID := uuid.Nil
	for rows.Next() {
		l := medication.DoseLog{}
		err := rows.Scan(
			&l.ID, &l.MedicationID, &l.PatientID, &l.ScheduledTime, &l.ActualTime, &l.Status,
			&l.ExpectedDose, &l.ActualDose, &l.Unit, &l.Advisory, &l.AdvisoryReasons,
			&l.Notes, &l.CreatedAt,
		)
		if err != nil {
			return nil, uuid.Nil, err
		}
		patientID = l.PatientID
		logs = append(logs, l)
	}
	return logs, patientID, rows.Err()
}
