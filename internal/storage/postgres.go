package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) GetAllDrivers(ctx context.Context) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, display_name, contact_channel, age, nationality, phone, vehicle_type, vehicle_make, vehicle_year, gender, lat, lon, last_update, activity FROM drivers ORDER BY created_seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (models.Driver, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, display_name, contact_channel, age, nationality, phone, vehicle_type, vehicle_make, vehicle_year, gender, lat, lon, last_update, activity FROM drivers WHERE id=$1`, id)
	d, err := scanDriver(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, ErrNotFound
	}
	return d, err
}

func (p *PostgresStore) UpsertDriver(ctx context.Context, d models.Driver) error {
	var lat, lon sql.NullFloat64
	if d.Position != nil {
		lat = sql.NullFloat64{Float64: d.Position.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: d.Position.Lon, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO drivers(id, display_name, contact_channel, age, nationality, phone, vehicle_type, vehicle_make, vehicle_year, gender, lat, lon, last_update, activity)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			display_name=EXCLUDED.display_name, contact_channel=EXCLUDED.contact_channel,
			age=EXCLUDED.age, nationality=EXCLUDED.nationality, phone=EXCLUDED.phone,
			vehicle_type=EXCLUDED.vehicle_type, vehicle_make=EXCLUDED.vehicle_make,
			vehicle_year=EXCLUDED.vehicle_year, gender=EXCLUDED.gender,
			lat=EXCLUDED.lat, lon=EXCLUDED.lon,
			last_update=EXCLUDED.last_update, activity=EXCLUDED.activity`,
		d.ID, d.DisplayName, d.ContactChannel,
		d.Attributes.Age, d.Attributes.Nationality, d.Attributes.Phone,
		d.Attributes.VehicleType, d.Attributes.VehicleMake, d.Attributes.VehicleYear,
		d.Attributes.Gender, lat, lon, d.LastUpdate, string(d.Activity))
	return err
}

func (p *PostgresStore) GetAllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, display_name, role FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		var u models.User
		var role string
		if err := rows.Scan(&u.ID, &u.DisplayName, &role); err != nil {
			return nil, err
		}
		u.Role = models.Role(role)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	var role string
	err := p.db.QueryRowContext(ctx, `SELECT id, display_name, role FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.DisplayName, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	u.Role = models.Role(role)
	return u, err
}

func (p *PostgresStore) UpsertUser(ctx context.Context, u models.User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users(id, display_name, role) VALUES($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET display_name=EXCLUDED.display_name, role=EXCLUDED.role`,
		u.ID, u.DisplayName, string(u.Role))
	return err
}

func (p *PostgresStore) AppendOrder(ctx context.Context, o models.Order) error {
	var plat, plon sql.NullFloat64
	if o.Pickup != nil {
		plat = sql.NullFloat64{Float64: o.Pickup.Lat, Valid: true}
		plon = sql.NullFloat64{Float64: o.Pickup.Lon, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders(id, client_id, driver_id, proposed_price, counter_price, driver_price, status, pickup_lat, pickup_lon, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.ClientID, o.DriverID, o.ProposedPrice, o.CounterPrice, o.DriverPrice,
		string(o.Status), plat, plon, o.CreatedAt)
	return err
}

func (p *PostgresStore) FindOrder(ctx context.Context, id string) (models.Order, error) {
	var o models.Order
	var status string
	var plat, plon sql.NullFloat64
	var created time.Time
	err := p.db.QueryRowContext(ctx, `
		SELECT id, client_id, driver_id, proposed_price, counter_price, driver_price, status, pickup_lat, pickup_lon, created_at
		FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.ClientID, &o.DriverID, &o.ProposedPrice, &o.CounterPrice, &o.DriverPrice, &status, &plat, &plon, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, err
	}
	o.Status = models.OrderStatus(status)
	o.CreatedAt = created
	if plat.Valid && plon.Valid {
		o.Pickup = &models.Coord{Lat: plat.Float64, Lon: plon.Float64}
	}
	return o, nil
}

func (p *PostgresStore) UpdateOrder(ctx context.Context, id string, upd OrderUpdate) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders SET
			status = COALESCE($1, status),
			driver_price = COALESCE($2, driver_price),
			counter_price = COALESCE($3, counter_price)
		WHERE id=$4`,
		statusArg(upd.Status), upd.DriverPrice, upd.CounterPrice, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func statusArg(s *models.OrderStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row rowScanner) (models.Driver, error) {
	var d models.Driver
	var activity string
	var lat, lon sql.NullFloat64
	err := row.Scan(&d.ID, &d.DisplayName, &d.ContactChannel,
		&d.Attributes.Age, &d.Attributes.Nationality, &d.Attributes.Phone,
		&d.Attributes.VehicleType, &d.Attributes.VehicleMake, &d.Attributes.VehicleYear,
		&d.Attributes.Gender, &lat, &lon, &d.LastUpdate, &activity)
	if err != nil {
		return models.Driver{}, err
	}
	d.Activity = models.ActivityState(activity)
	if lat.Valid && lon.Valid {
		d.Position = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	return d, nil
}
