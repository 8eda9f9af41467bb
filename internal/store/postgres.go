package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventpulse/admission/internal/model"
)

// Postgres is the durable Store. It uses pgx directly (no ORM) and
// serializes per-event mutations with row-level locks on the event row,
// so waitlist positions and capacity mirrors cannot interleave.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres store.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

// Migrate creates the schema if it does not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id                   BIGSERIAL PRIMARY KEY,
    title                TEXT NOT NULL,
    description          TEXT NOT NULL DEFAULT '',
    location             TEXT NOT NULL DEFAULT '',
    start_time           TIMESTAMPTZ NOT NULL,
    end_time             TIMESTAMPTZ NOT NULL,
    capacity             INT NOT NULL CHECK (capacity >= 1),
    visibility           TEXT NOT NULL DEFAULT 'PUBLIC',
    status               TEXT NOT NULL DEFAULT 'UPCOMING',
    category             TEXT NOT NULL DEFAULT '',
    ticket_types_schema  TEXT NOT NULL DEFAULT '[]',
    custom_fields_schema TEXT NOT NULL DEFAULT '[]',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS registrations (
    id                UUID PRIMARY KEY,
    event_id          BIGINT NOT NULL REFERENCES events(id),
    person_email      TEXT NOT NULL,
    tier              TEXT NOT NULL,
    status            TEXT NOT NULL,
    waitlist_position INT NOT NULL DEFAULT 0,
    seat_token        TEXT NOT NULL DEFAULT '',
    ticket_code       TEXT NOT NULL DEFAULT '',
    answers           TEXT NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS registrations_one_active
    ON registrations (event_id, person_email)
    WHERE status IN ('REGISTERED', 'WAITLISTED');

CREATE TABLE IF NOT EXISTS checkins (
    registration_id UUID PRIMARY KEY REFERENCES registrations(id),
    method          TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    checked_in_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS invitations (
    event_id BIGINT NOT NULL REFERENCES events(id),
    email    TEXT NOT NULL,
    PRIMARY KEY (event_id, email)
);
`

// ── Events ────────────────────────────────────────────────────────────────

func (p *Postgres) CreateEvent(ctx context.Context, e *model.Event) error {
	now := time.Now().UTC()
	err := p.db.QueryRow(ctx,
		`INSERT INTO events (title, description, location, start_time, end_time, capacity,
		                     visibility, status, category, ticket_types_schema, custom_fields_schema,
		                     created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		 RETURNING id`,
		e.Title, e.Description, e.Location, e.StartTime, e.EndTime, e.Capacity,
		e.Visibility, e.Status, e.Category, toJSON(e.Tiers), toJSON(e.CustomFields), now,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

const eventColumns = `id, title, description, location, start_time, end_time, capacity,
       visibility, status, category, ticket_types_schema, custom_fields_schema,
       created_at, updated_at`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	var tiers, fields string
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Location, &e.StartTime, &e.EndTime,
		&e.Capacity, &e.Visibility, &e.Status, &e.Category, &tiers, &fields,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(tiers), &e.Tiers)
	_ = json.Unmarshal([]byte(fields), &e.CustomFields)
	return &e, nil
}

func (p *Postgres) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	e, err := scanEvent(p.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (p *Postgres) SearchEvents(ctx context.Context, query, location, category string) ([]*model.Event, error) {
	sql := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	var args []any
	arg := 1

	if query != "" {
		sql += fmt.Sprintf(" AND (title ILIKE $%d OR description ILIKE $%d)", arg, arg)
		args = append(args, "%"+query+"%")
		arg++
	}
	if location != "" {
		sql += fmt.Sprintf(" AND location ILIKE $%d", arg)
		args = append(args, "%"+location+"%")
		arg++
	}
	if category != "" && category != "All" {
		sql += fmt.Sprintf(" AND category = $%d", arg)
		args = append(args, category)
		arg++
	}
	sql += " ORDER BY start_time ASC"

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (p *Postgres) SyncEventStatuses(ctx context.Context, now time.Time) (started, completed int, err error) {
	tagStarted, err := p.db.Exec(ctx,
		`UPDATE events
		 SET status = 'IN_PROGRESS', updated_at = $1
		 WHERE status = 'UPCOMING' AND start_time <= $1 AND end_time > $1`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("mark events in progress: %w", err)
	}

	tagCompleted, err := p.db.Exec(ctx,
		`UPDATE events
		 SET status = 'COMPLETED', updated_at = $1
		 WHERE status IN ('UPCOMING', 'IN_PROGRESS') AND end_time <= $1`, now)
	if err != nil {
		return int(tagStarted.RowsAffected()), 0, fmt.Errorf("mark events completed: %w", err)
	}
	return int(tagStarted.RowsAffected()), int(tagCompleted.RowsAffected()), nil
}

func (p *Postgres) Invite(ctx context.Context, eventID int64, email string) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO invitations (event_id, email) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		eventID, email)
	if err != nil {
		return fmt.Errorf("invite: %w", err)
	}
	return nil
}

func (p *Postgres) IsInvited(ctx context.Context, eventID int64, email string) (bool, error) {
	var invited bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM invitations WHERE event_id = $1 AND email = $2)`,
		eventID, email,
	).Scan(&invited)
	if err != nil {
		return false, fmt.Errorf("invitation lookup: %w", err)
	}
	return invited, nil
}

// ── Registrations ─────────────────────────────────────────────────────────

const regColumns = `id, event_id, person_email, tier, status, waitlist_position,
       seat_token, ticket_code, answers, created_at, updated_at`

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var r model.Registration
	var answers string
	err := row.Scan(&r.ID, &r.EventID, &r.PersonEmail, &r.Tier, &r.Status,
		&r.WaitlistPosition, &r.SeatToken, &r.TicketCode, &answers,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(answers), &r.Answers)
	return &r, nil
}

// CreateRegistration inserts a registration inside a transaction that
// holds a row-level lock on the event. The lock serializes concurrent
// joins for the same event, which makes the duplicate check and the
// waitlist position assignment race-free: two simultaneous waitlist joins
// can never receive the same position.
func (p *Postgres) CreateRegistration(ctx context.Context, reg *model.Registration) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockEvent(ctx, tx, reg.EventID); err != nil {
		return err
	}

	var dup int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations
		 WHERE event_id = $1 AND person_email = $2 AND status IN ('REGISTERED', 'WAITLISTED')`,
		reg.EventID, reg.PersonEmail,
	).Scan(&dup)
	if err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if dup > 0 {
		return ErrAlreadyRegistered
	}

	if reg.Status == model.StatusWaitlisted {
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) + 1 FROM registrations WHERE event_id = $1 AND status = 'WAITLISTED'`,
			reg.EventID,
		).Scan(&reg.WaitlistPosition)
		if err != nil {
			return fmt.Errorf("next waitlist position: %w", err)
		}
	}

	now := time.Now().UTC()
	reg.CreatedAt = now
	reg.UpdatedAt = now

	_, err = tx.Exec(ctx,
		`INSERT INTO registrations (id, event_id, person_email, tier, status, waitlist_position,
		                            seat_token, ticket_code, answers, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		reg.ID, reg.EventID, reg.PersonEmail, reg.Tier, reg.Status, reg.WaitlistPosition,
		reg.SeatToken, reg.TicketCode, toJSON(reg.Answers), now,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	r, err := scanRegistration(p.db.QueryRow(ctx,
		`SELECT `+regColumns+` FROM registrations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return r, nil
}

func (p *Postgres) ActiveRegistration(ctx context.Context, eventID int64, email string) (*model.Registration, error) {
	r, err := scanRegistration(p.db.QueryRow(ctx,
		`SELECT `+regColumns+` FROM registrations
		 WHERE event_id = $1 AND person_email = $2 AND status IN ('REGISTERED', 'WAITLISTED')`,
		eventID, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("active registration: %w", err)
	}
	return r, nil
}

func (p *Postgres) FindCheckinCandidate(ctx context.Context, eventID int64, email string) (*model.Registration, error) {
	r, err := scanRegistration(p.db.QueryRow(ctx,
		`SELECT `+regColumns+` FROM registrations
		 WHERE event_id = $1 AND person_email = $2
		 ORDER BY (status = 'CANCELLED') ASC, created_at DESC
		 LIMIT 1`,
		eventID, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find check-in candidate: %w", err)
	}
	return r, nil
}

func (p *Postgres) CheckinCandidateOn(ctx context.Context, email string, day time.Time) (*model.Registration, error) {
	r, err := scanRegistration(p.db.QueryRow(ctx,
		`SELECT r.id, r.event_id, r.person_email, r.tier, r.status, r.waitlist_position,
		        r.seat_token, r.ticket_code, r.answers, r.created_at, r.updated_at
		 FROM registrations r
		 JOIN events e ON e.id = r.event_id
		 WHERE r.person_email = $1
		   AND DATE(e.start_time) = DATE($2)
		 ORDER BY (r.status = 'CANCELLED') ASC, e.start_time ASC
		 LIMIT 1`,
		email, day))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("check-in candidate for day: %w", err)
	}
	return r, nil
}

func (p *Postgres) CancelRegistration(ctx context.Context, id string) (prior *model.Registration, err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	prior, err = scanRegistration(tx.QueryRow(ctx,
		`SELECT `+regColumns+` FROM registrations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock registration: %w", err)
	}
	if !prior.Status.Active() {
		return nil, ErrNoActiveRegistration
	}

	if err = lockEvent(ctx, tx, prior.EventID); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE registrations
		 SET status = 'CANCELLED', waitlist_position = 0, seat_token = '', updated_at = NOW()
		 WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("cancel registration: %w", err)
	}

	if prior.Status == model.StatusWaitlisted {
		if err = compactWaitlist(ctx, tx, prior.EventID, prior.WaitlistPosition); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return prior, nil
}

func (p *Postgres) NextWaitlisted(ctx context.Context, eventID int64, tier string) (*model.Registration, error) {
	r, err := scanRegistration(p.db.QueryRow(ctx,
		`SELECT `+regColumns+` FROM registrations
		 WHERE event_id = $1 AND tier = $2 AND status = 'WAITLISTED'
		 ORDER BY waitlist_position ASC
		 LIMIT 1`, eventID, tier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("next waitlisted: %w", err)
	}
	return r, nil
}

func (p *Postgres) Promote(ctx context.Context, id string, seatToken, ticketCode string) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var eventID int64
	var position int
	err = tx.QueryRow(ctx,
		`SELECT event_id, waitlist_position FROM registrations
		 WHERE id = $1 AND status = 'WAITLISTED'
		 FOR UPDATE`, id,
	).Scan(&eventID, &position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock waitlisted registration: %w", err)
	}

	if err = lockEvent(ctx, tx, eventID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE registrations
		 SET status = 'REGISTERED', waitlist_position = 0, seat_token = $2, ticket_code = $3, updated_at = NOW()
		 WHERE id = $1`, id, seatToken, ticketCode)
	if err != nil {
		return fmt.Errorf("promote registration: %w", err)
	}

	if err = compactWaitlist(ctx, tx, eventID, position); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) ListRegistrations(ctx context.Context, eventID int64) ([]*model.Registration, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+regColumns+` FROM registrations WHERE event_id = $1 ORDER BY created_at ASC`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []*model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, r)
	}
	return regs, rows.Err()
}

func (p *Postgres) ListAttendees(ctx context.Context, eventID int64) ([]*model.Attendee, error) {
	rows, err := p.db.Query(ctx,
		`SELECT person_email, status, tier, created_at
		 FROM registrations
		 WHERE event_id = $1
		 ORDER BY status ASC, created_at ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	defer rows.Close()

	var out []*model.Attendee
	for rows.Next() {
		var a model.Attendee
		if err := rows.Scan(&a.Email, &a.Status, &a.Tier, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attendee: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (p *Postgres) ListPersonEvents(ctx context.Context, email string) ([]*model.UserEvent, error) {
	rows, err := p.db.Query(ctx,
		`SELECT e.id, e.title, e.start_time, r.status
		 FROM events e
		 JOIN registrations r ON e.id = r.event_id
		 WHERE r.person_email = $1
		 ORDER BY e.start_time ASC`, email)
	if err != nil {
		return nil, fmt.Errorf("list person events: %w", err)
	}
	defer rows.Close()

	var out []*model.UserEvent
	for rows.Next() {
		var ue model.UserEvent
		if err := rows.Scan(&ue.EventID, &ue.Title, &ue.StartTime, &ue.MyStatus); err != nil {
			return nil, fmt.Errorf("scan person event: %w", err)
		}
		out = append(out, &ue)
	}
	return out, rows.Err()
}

// ── Check-ins ─────────────────────────────────────────────────────────────

// MarkAttended locks the registration row, so the existence check on the
// check-in record and its creation form one atomic unit: of two racing
// verifications exactly one sees success, the other ErrAlreadyCheckedIn.
// The primary key on checkins(registration_id) backstops the invariant.
func (p *Postgres) MarkAttended(ctx context.Context, registrationID string, rec *model.CheckinRecord) (reg *model.Registration, err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	reg, err = scanRegistration(tx.QueryRow(ctx,
		`SELECT `+regColumns+` FROM registrations WHERE id = $1 FOR UPDATE`, registrationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock registration: %w", err)
	}

	var dup int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM checkins WHERE registration_id = $1`, registrationID,
	).Scan(&dup)
	if err != nil {
		return nil, fmt.Errorf("check existing check-in: %w", err)
	}
	if dup > 0 {
		return nil, ErrAlreadyCheckedIn
	}
	if reg.Status != model.StatusRegistered {
		return nil, ErrNotEligible
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`INSERT INTO checkins (registration_id, method, idempotency_key, checked_in_at)
		 VALUES ($1, $2, $3, $4)`,
		registrationID, rec.Method, rec.IdempotencyKey, now)
	if err != nil {
		return nil, fmt.Errorf("insert check-in: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE registrations SET status = 'ATTENDED', updated_at = $2 WHERE id = $1`,
		registrationID, now)
	if err != nil {
		return nil, fmt.Errorf("mark attended: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	rec.RegistrationID = registrationID
	rec.CheckedInAt = now
	reg.Status = model.StatusAttended
	reg.UpdatedAt = now
	return reg, nil
}

func (p *Postgres) GetCheckin(ctx context.Context, registrationID string) (*model.CheckinRecord, error) {
	var rec model.CheckinRecord
	err := p.db.QueryRow(ctx,
		`SELECT registration_id, method, idempotency_key, checked_in_at
		 FROM checkins WHERE registration_id = $1`, registrationID,
	).Scan(&rec.RegistrationID, &rec.Method, &rec.IdempotencyKey, &rec.CheckedInAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get check-in: %w", err)
	}
	return &rec, nil
}

// ── helpers ───────────────────────────────────────────────────────────────

// lockEvent takes the row-level lock that serializes all registration
// mutations for one event.
func lockEvent(ctx context.Context, tx pgx.Tx, eventID int64) error {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock event row: %w", err)
	}
	return nil
}

func compactWaitlist(ctx context.Context, tx pgx.Tx, eventID int64, removedPos int) error {
	_, err := tx.Exec(ctx,
		`UPDATE registrations
		 SET waitlist_position = waitlist_position - 1
		 WHERE event_id = $1 AND status = 'WAITLISTED' AND waitlist_position > $2`,
		eventID, removedPos)
	if err != nil {
		return fmt.Errorf("compact waitlist: %w", err)
	}
	return nil
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		switch v.(type) {
		case map[string]string:
			return "{}"
		default:
			return "[]"
		}
	}
	return string(b)
}
